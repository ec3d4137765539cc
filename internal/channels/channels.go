// Package channels delivers ready notifications to their surface.
package channels

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
)

// Notification — готовое к доставке уведомление (outbound contract).
type Notification struct {
	UserID      string
	Type        string
	Title       string
	Body        string
	ChannelHint string
	Payload     []byte
}

// Adapter consumes notification_ready events for one channel.
type Adapter interface {
	Deliver(ctx context.Context, n Notification) error
	Name() string
}

// ChatAdapter inserts the notification into the user's dialogue as an
// assistant message, which is how the chat surface renders pushes.
type ChatAdapter struct {
	dialogue storage.DialogueStorage
	now      func() time.Time
}

func NewChatAdapter(dialogue storage.DialogueStorage, now func() time.Time) *ChatAdapter {
	if now == nil {
		now = time.Now
	}
	return &ChatAdapter{dialogue: dialogue, now: now}
}

func (a *ChatAdapter) Deliver(ctx context.Context, n Notification) error {
	content := n.Body
	if n.Title != "" {
		content = n.Title + "\n" + n.Body
	}
	if _, err := a.dialogue.InsertDialogue(ctx, n.UserID, "assistant", content, n.Payload, a.now()); err != nil {
		return fmt.Errorf("chat deliver: %w", err)
	}
	return nil
}

func (a *ChatAdapter) Name() string { return "chat" }

// LogAdapter just logs the delivery; stands in for push/email/sms
// surfaces in local runs.
type LogAdapter struct {
	channel string
}

func NewLogAdapter(channel string) *LogAdapter {
	return &LogAdapter{channel: channel}
}

func (a *LogAdapter) Deliver(ctx context.Context, n Notification) error {
	log.Printf("deliver[%s] user=%s type=%s title=%q", a.channel, n.UserID, n.Type, n.Title)
	return nil
}

func (a *LogAdapter) Name() string { return a.channel }

// Router picks the adapter by channel hint, defaulting to chat.
type Router struct {
	adapters map[string]Adapter
	fallback Adapter
}

func NewRouter(fallback Adapter, adapters ...Adapter) *Router {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Router{adapters: m, fallback: fallback}
}

func (r *Router) Deliver(ctx context.Context, n Notification) error {
	if a, ok := r.adapters[n.ChannelHint]; ok {
		return a.Deliver(ctx, n)
	}
	if r.fallback != nil {
		return r.fallback.Deliver(ctx, n)
	}
	return fmt.Errorf("no adapter for channel %q", n.ChannelHint)
}
