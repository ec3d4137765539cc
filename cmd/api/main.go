package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/fdg312/coach-hub/internal/abtest"
	"github.com/fdg312/coach-hub/internal/achievements"
	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/blob"
	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/channels"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/compose"
	"github.com/fdg312/coach-hub/internal/config"
	"github.com/fdg312/coach-hub/internal/dbmigrate"
	"github.com/fdg312/coach-hub/internal/decision"
	"github.com/fdg312/coach-hub/internal/detect"
	"github.com/fdg312/coach-hub/internal/embedding"
	"github.com/fdg312/coach-hub/internal/engagement"
	"github.com/fdg312/coach-hub/internal/httpserver"
	"github.com/fdg312/coach-hub/internal/intake"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/memory"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/reminders"
	"github.com/fdg312/coach-hub/internal/scheduler"
	"github.com/fdg312/coach-hub/internal/storage"
	memstorage "github.com/fdg312/coach-hub/internal/storage/memory"
	"github.com/fdg312/coach-hub/internal/storage/postgres"
	"github.com/fdg312/coach-hub/internal/vecstore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	printStartupBanner(cfg)

	if cfg.RunMigrationsOnStartup {
		dbURL, source, _, err := dbmigrate.SelectDatabaseURL(cfg, true)
		if err != nil {
			log.Fatalf("FATAL startup migrations: %v", err)
		}

		log.Printf("startup migrations: command=up using=%s", source)
		if err := dbmigrate.Run("up", dbURL, dbmigrate.DefaultMigrationsDir); err != nil {
			log.Fatalf("FATAL startup migrations failed: %v", err)
		}
		log.Printf("startup migrations: completed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	sink := metrics.NewLogSink()

	// ---------- storage ----------
	var store storage.Storage
	if cfg.DatabaseURL == "" {
		log.Println("Используется in-memory storage")
		store = memstorage.New()
	} else {
		log.Println("Подключение к PostgreSQL...")
		pgStore, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("Ошибка подключения к PostgreSQL: %v", err)
			log.Println("Fallback на in-memory storage")
			store = memstorage.New()
		} else {
			log.Println("PostgreSQL подключен успешно")
			store = pgStore
		}
	}
	defer store.Close()

	// ---------- AI / embeddings / vector store ----------
	provider := ai.NewProvider(cfg)
	embedder := embedding.NewEngine(cfg)

	var longTerm vecstore.Store
	sqliteStore, err := vecstore.NewSQLiteStore(cfg.VectorDBPath, embedder.Dimensions())
	if err != nil {
		log.Printf("degraded: vector store unavailable (%v), long-term memory reads will be empty", err)
		longTerm = vecstore.NewMemStore()
	} else {
		longTerm = sqliteStore
	}
	defer longTerm.Close()

	archive, archiveMode, err := blob.NewBlobStore(cfg)
	if err != nil {
		log.Fatalf("FATAL blob: %v", err)
	}
	log.Printf("memory archive mode: %s", archiveMode)

	// ---------- core services ----------
	ledgerSvc := ledger.NewService(store, store, clk, sink)

	shortTerm := memory.NewShortTerm()
	mem := memory.NewManager(shortTerm, longTerm, embedder, provider, store, archive, clk, sink, memory.Options{
		SummaryTriggerDialogueCount: cfg.SummaryTriggerDialogueCount,
		RetentionDaysCheckin:        cfg.RetentionDaysCheckin,
		RetentionDaysDialogue:       cfg.RetentionDaysDialogue,
		ContextCharBudget:           cfg.ContextCharBudget,
	})

	detector := detect.NewDetector(store, provider, clk, sink, detect.TTLs{
		IllnessHours:    cfg.IllnessTTLHours,
		SocialHours:     cfg.SocialTTLHours,
		HighStressHours: cfg.HighStressTTLHours,
	})

	tracker := engagement.NewTracker(store, store, store, clk, engagement.Weights{
		Login:       cfg.EngagementWeightLogin,
		Record:      cfg.EngagementWeightRecord,
		Goal:        cfg.EngagementWeightGoal,
		Interaction: cfg.EngagementWeightInteraction,
	})

	engine := decision.NewEngine(store, store, store, tracker, detector, provider, clk, sink, cfg)
	remindersSvc := reminders.NewService(store, clk)

	// Experiments are static per build; outcomes land in ab_results.
	abRegistry, err := abtest.NewRegistry(store, abtest.Test{
		ID: compose.ToneTestID,
		Variants: []abtest.Variant{
			{Name: "control", Weight: 0.5},
			{Name: "warm", Weight: 0.5},
		},
	})
	if err != nil {
		log.Fatalf("FATAL abtest: %v", err)
	}

	generator := compose.NewGenerator(mem, detector, provider, store, clk, sink, cfg.LLMFallbackMs, 300).
		WithABTests(abRegistry)

	events := bus.New()
	defer events.Close()

	router := channels.NewRouter(
		channels.NewChatAdapter(store, clk.Now),
		channels.NewChatAdapter(store, clk.Now),
		channels.NewLogAdapter("push"),
		channels.NewLogAdapter("email"),
		channels.NewLogAdapter("sms"),
	)

	sched := scheduler.New(remindersSvc, engine, generator, store, store, store, router, events, clk, sink, cfg)

	evaluator := achievements.NewEvaluator(store, store, store, ledgerSvc, events, clk, sink)
	sched.SetMidnightHook(func(ctx context.Context, userID string) {
		if _, err := evaluator.Evaluate(ctx, userID); err != nil {
			log.Printf("midnight evaluation failed for user %s: %v", userID, err)
		}
		if err := mem.Compress(ctx, userID); err != nil {
			log.Printf("memory compression failed for user %s: %v", userID, err)
		}
	})

	intakeSvc := intake.NewService(store, store, store, store, mem, evaluator, ledgerSvc, events, sched, clk, sink)

	server := httpserver.New(cfg, intakeSvc, remindersSvc, ledgerSvc, store, stop)

	// ---------- run ----------
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(groupCtx)
	})
	group.Go(func() error {
		return server.Start()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Println("остановлено")
}

// printStartupBanner logs a one-time summary of the resolved configuration.
// No secrets are ever printed — only masked indicators ("set" / "not set").
func printStartupBanner(cfg *config.Config) {
	log.Println("========== Coach Hub Core ==========")
	log.Printf("  env              = %s", cfg.Env)
	log.Printf("  port             = %d", cfg.Port)

	log.Println("---- database ----")
	log.Printf("  runtime_url      = %s", describeDBURL(cfg.DatabaseURL))
	log.Printf("  migrations_on_startup = %t", cfg.RunMigrationsOnStartup)

	log.Println("---- auth ----")
	log.Printf("  auth_mode        = %s", cfg.AuthMode)
	log.Printf("  auth_required    = %t", cfg.AuthRequired)
	log.Printf("  jwt_secret       = %s", secretStatus(cfg.JWTSecret, "change_me"))

	log.Println("---- decision ----")
	log.Printf("  mode_weights     = conservative=%.2f balanced=%.2f intelligent=%.2f",
		cfg.DecisionWeights.Conservative, cfg.DecisionWeights.Balanced, cfg.DecisionWeights.Intelligent)
	log.Printf("  daily_caps       = high=%d medium=%d low=%d", cfg.DailyCaps.High, cfg.DailyCaps.Medium, cfg.DailyCaps.Low)
	log.Printf("  quiet_hours      = %02d:%02d-%02d:%02d",
		cfg.QuietStartMinutes/60, cfg.QuietStartMinutes%60, cfg.QuietEndMinutes/60, cfg.QuietEndMinutes%60)

	log.Println("---- memory ----")
	log.Printf("  vector_db        = %s", cfg.VectorDBPath)
	log.Printf("  summary_trigger  = %d turns", cfg.SummaryTriggerDialogueCount)
	log.Printf("  retention_days   = checkin=%d dialogue=%d", cfg.RetentionDaysCheckin, cfg.RetentionDaysDialogue)
	log.Printf("  blob_mode        = %s", cfg.BlobMode)

	log.Println("---- ai ----")
	log.Printf("  ai_mode          = %s", cfg.AIMode)
	log.Printf("  embedding_mode   = %s", cfg.EmbeddingMode)
	if cfg.AIMode == "openai" || cfg.EmbeddingMode == "openai" {
		log.Printf("  openai_model     = %s", cfg.OpenAIModel)
		log.Printf("  openai_api_key   = %s", setOrNot(cfg.OpenAIAPIKey))
	}

	log.Println("====================================")
}

// ---- helpers (no secrets) ----

func setOrNot(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return "set"
}

func secretStatus(v, insecureDefault string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "not set"
	}
	if v == insecureDefault {
		return fmt.Sprintf("set (DEFAULT — insecure '%s')", insecureDefault)
	}
	return "set (custom)"
}

func describeDBURL(runtime string) string {
	if runtime == "" {
		return "not set (will use in-memory storage)"
	}
	return "set"
}
