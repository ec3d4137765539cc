package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

const (
	BlobModeLocal = "local"
	BlobModeS3    = "s3"
)

// S3Config — настройки S3-совместимого хранилища для архива памяти.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) MissingRequired() []string {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if strings.TrimSpace(c.AccessKeyID) == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	return missing
}

func (c S3Config) IsConfigured() bool {
	return len(c.MissingRequired()) == 0
}

// DecisionWeights — вес rule-слоя по режиму принятия решений.
type DecisionWeights struct {
	Conservative float64
	Balanced     float64
	Intelligent  float64
}

// Alpha returns the rule-layer weight for a decision mode.
// Unknown modes fall back to balanced.
func (w DecisionWeights) Alpha(mode string) float64 {
	switch mode {
	case "conservative":
		return w.Conservative
	case "intelligent":
		return w.Intelligent
	default:
		return w.Balanced
	}
}

// DailyCaps — суточные лимиты уведомлений по уровню вовлечённости.
type DailyCaps struct {
	High   int
	Medium int
	Low    int
}

// ForLevel returns the daily cap for an engagement level.
// Inactive users get the low cap.
func (c DailyCaps) ForLevel(level string) int {
	switch level {
	case "high":
		return c.High
	case "medium":
		return c.Medium
	default:
		return c.Low
	}
}

// Config содержит конфигурацию приложения
type Config struct {
	Env      string // local | staging | production
	Port     int
	LogLevel string

	// Database
	DatabaseURL       string // runtime connection (resolved: pooled > url > direct)
	DatabaseURLRaw    string // DATABASE_URL as provided
	DatabaseURLPooled string // DATABASE_URL_POOLED as provided
	DatabaseURLDirect string // for migrations / DDL (may be empty)

	// Rate Limiting (inbound HTTP)
	RateLimitRPS   int
	RateLimitBurst int

	// Authentication
	AuthMode     string // none | dev
	AuthRequired bool
	JWTSecret    string
	JWTIssuer    string

	// Decision Engine
	DecisionWeights            DecisionWeights
	DailyCaps                  DailyCaps
	MinIntervalSameTypeSeconds int
	SendThreshold              float64
	DeferThreshold             float64
	QuietStartMinutes          int // default quiet hours, per-user overridable
	QuietEndMinutes            int

	// Engagement
	EngagementWeightLogin       float64
	EngagementWeightRecord      float64
	EngagementWeightGoal        float64
	EngagementWeightInteraction float64

	// Memory
	SummaryTriggerDialogueCount int
	RetentionDaysCheckin        int
	RetentionDaysDialogue       int
	ContextCharBudget           int
	VectorDBPath                string

	// Context events (TTL hours; travel is bounded by its end date)
	IllnessTTLHours    int
	SocialTTLHours     int
	HighStressTTLHours int

	// Scheduler
	WorkerCount            int
	DeliveryMaxRetries     int
	ShutdownGraceSeconds   int
	StartupCancelStaleMins int

	// AI (chat LLM)
	AIMode            string // mock | openai
	AIMaxOutputTokens int
	AITemperature     float64
	AITimeoutSeconds  int
	LLMFallbackMs     int
	LLMPoolRPS        int
	OpenAIAPIKey      string
	OpenAIModel       string

	// Embeddings
	EmbeddingMode  string // mock | openai
	EmbeddingModel string

	// Blob (memory archive)
	BlobMode     string // local | s3
	BlobLocalDir string
	S3           S3Config

	// Migrations
	RunMigrationsOnStartup bool
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "local"
	}

	port := envInt("PORT", 8080)

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "debug"
	}

	// ---------- Database ----------
	// Priority: DATABASE_URL_POOLED > DATABASE_URL > DATABASE_URL_DIRECT
	dbPooled := strings.TrimSpace(os.Getenv("DATABASE_URL_POOLED"))
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	dbDirect := strings.TrimSpace(os.Getenv("DATABASE_URL_DIRECT"))

	runtimeDB := dbPooled
	if runtimeDB == "" {
		runtimeDB = dbURL
	}
	if runtimeDB == "" {
		runtimeDB = dbDirect
	}

	// ---------- Auth ----------
	authMode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if authMode == "" {
		authMode = "none"
	}
	if authMode != "none" && authMode != "dev" {
		log.Printf("WARNING: unknown AUTH_MODE=%q, fallback to none", authMode)
		authMode = "none"
	}
	authRequired := authMode != "none" && parseBoolEnv("AUTH_REQUIRED")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "change_me"
	}
	if jwtSecret == "change_me" && env != "local" {
		log.Println("WARNING: JWT_SECRET is set to 'change_me' in non-local environment!")
	}
	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "coach-hub"
	}

	// ---------- Decision engine ----------
	weights := DecisionWeights{
		Conservative: envFloat("DECISION_WEIGHT_CONSERVATIVE", 0.8),
		Balanced:     envFloat("DECISION_WEIGHT_BALANCED", 0.5),
		Intelligent:  envFloat("DECISION_WEIGHT_INTELLIGENT", 0.2),
	}
	caps := DailyCaps{
		High:   envInt("DAILY_CAP_HIGH", 6),
		Medium: envInt("DAILY_CAP_MEDIUM", 4),
		Low:    envInt("DAILY_CAP_LOW", 2),
	}
	minInterval := envInt("MIN_INTERVAL_SAME_TYPE_SECONDS", 7200)
	if minInterval <= 0 {
		minInterval = 7200
	}

	// QUIET_HOURS format "22:00-08:00"; unparsable values keep the default.
	quietStart, quietEnd := 22*60, 8*60
	if raw := strings.TrimSpace(os.Getenv("QUIET_HOURS")); raw != "" {
		if s, e, ok := parseQuietHours(raw); ok {
			quietStart, quietEnd = s, e
		} else {
			log.Printf("WARNING: unparsable QUIET_HOURS=%q, keeping 22:00-08:00", raw)
		}
	}

	// ---------- Memory ----------
	summaryTrigger := envInt("SUMMARY_TRIGGER_DIALOGUE_COUNT", 20)
	if summaryTrigger <= 0 {
		summaryTrigger = 20
	}
	vectorDBPath := strings.TrimSpace(os.Getenv("VECTOR_DB_PATH"))
	if vectorDBPath == "" {
		vectorDBPath = "data/memories.db"
	}

	// ---------- AI ----------
	aiMode := strings.ToLower(strings.TrimSpace(os.Getenv("AI_MODE")))
	if aiMode == "" {
		aiMode = "mock"
	}
	if aiMode != "mock" && aiMode != "openai" {
		log.Printf("WARNING: unknown AI_MODE=%q, fallback to mock", aiMode)
		aiMode = "mock"
	}

	aiTemperature := envFloat("AI_TEMPERATURE", 0.3)
	if aiTemperature < 0 {
		aiTemperature = 0
	}
	if aiTemperature > 2 {
		aiTemperature = 2
	}

	openAIAPIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	openAIModel := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if openAIModel == "" {
		openAIModel = "gpt-4.1-mini"
	}
	if aiMode == "openai" && openAIAPIKey == "" {
		log.Fatal("OPENAI_API_KEY is required when AI_MODE=openai")
	}

	embeddingMode := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDING_MODE")))
	if embeddingMode == "" {
		embeddingMode = aiMode
	}
	if embeddingMode != "mock" && embeddingMode != "openai" {
		log.Printf("WARNING: unknown EMBEDDING_MODE=%q, fallback to mock", embeddingMode)
		embeddingMode = "mock"
	}
	embeddingModel := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL"))
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	// ---------- Blob ----------
	blobMode := strings.ToLower(strings.TrimSpace(os.Getenv("BLOB_MODE")))
	if blobMode == "" {
		blobMode = BlobModeLocal
	}
	if blobMode != BlobModeLocal && blobMode != BlobModeS3 {
		log.Printf("WARNING: unknown BLOB_MODE=%q, fallback to %s", blobMode, BlobModeLocal)
		blobMode = BlobModeLocal
	}
	blobLocalDir := strings.TrimSpace(os.Getenv("BLOB_LOCAL_DIR"))
	if blobLocalDir == "" {
		blobLocalDir = "data/archive"
	}

	s3Cfg := S3Config{
		Endpoint:        strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		Region:          strings.TrimSpace(os.Getenv("S3_REGION")),
		Bucket:          strings.TrimSpace(os.Getenv("S3_BUCKET")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
	}

	return &Config{
		Env:               env,
		Port:              port,
		LogLevel:          logLevel,
		DatabaseURL:       runtimeDB,
		DatabaseURLRaw:    dbURL,
		DatabaseURLPooled: dbPooled,
		DatabaseURLDirect: dbDirect,

		RateLimitRPS:   envInt("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 0),

		AuthMode:     authMode,
		AuthRequired: authRequired,
		JWTSecret:    jwtSecret,
		JWTIssuer:    jwtIssuer,

		DecisionWeights:            weights,
		DailyCaps:                  caps,
		MinIntervalSameTypeSeconds: minInterval,
		SendThreshold:              envFloat("SEND_THRESHOLD", 0.55),
		DeferThreshold:             envFloat("DEFER_THRESHOLD", 0.35),
		QuietStartMinutes:          quietStart,
		QuietEndMinutes:            quietEnd,

		EngagementWeightLogin:       envFloat("ENGAGEMENT_WEIGHT_LOGIN", 25),
		EngagementWeightRecord:      envFloat("ENGAGEMENT_WEIGHT_RECORD", 25),
		EngagementWeightGoal:        envFloat("ENGAGEMENT_WEIGHT_GOAL", 25),
		EngagementWeightInteraction: envFloat("ENGAGEMENT_WEIGHT_INTERACTION", 25),

		SummaryTriggerDialogueCount: summaryTrigger,
		RetentionDaysCheckin:        envInt("RETENTION_DAYS_CHECKIN", 365),
		RetentionDaysDialogue:       envInt("RETENTION_DAYS_DIALOGUE_SUMMARY", 90),
		ContextCharBudget:           envInt("CONTEXT_CHAR_BUDGET", 4000),
		VectorDBPath:                vectorDBPath,

		IllnessTTLHours:    envInt("CONTEXT_EVENT_TTL_ILLNESS_HOURS", 48),
		SocialTTLHours:     envInt("CONTEXT_EVENT_TTL_SOCIAL_HOURS", 12),
		HighStressTTLHours: envInt("CONTEXT_EVENT_TTL_STRESS_HOURS", 24),

		WorkerCount:            envInt("SCHEDULER_WORKERS", 8),
		DeliveryMaxRetries:     envInt("DELIVERY_MAX_RETRIES", 3),
		ShutdownGraceSeconds:   envInt("SHUTDOWN_GRACE_SECONDS", 5),
		StartupCancelStaleMins: envInt("STARTUP_CANCEL_STALE_MINUTES", 60),

		AIMode:            aiMode,
		AIMaxOutputTokens: envInt("AI_MAX_OUTPUT_TOKENS", 600),
		AITemperature:     aiTemperature,
		AITimeoutSeconds:  envInt("AI_TIMEOUT_SECONDS", 20),
		LLMFallbackMs:     envInt("LLM_FALLBACK_TIMEOUT_MS", 5000),
		LLMPoolRPS:        envInt("LLM_POOL_RPS", 4),
		OpenAIAPIKey:      openAIAPIKey,
		OpenAIModel:       openAIModel,

		EmbeddingMode:  embeddingMode,
		EmbeddingModel: embeddingModel,

		BlobMode:     blobMode,
		BlobLocalDir: blobLocalDir,
		S3:           s3Cfg,

		RunMigrationsOnStartup: parseBoolEnv("RUN_MIGRATIONS_ON_STARTUP"),
	}
}

// parseQuietHours parses "HH:MM-HH:MM" into minutes of day.
func parseQuietHours(raw string) (start, end int, ok bool) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseClock(strings.TrimSpace(parts[0]))
	if !ok {
		return 0, 0, false
	}
	end, ok = parseClock(strings.TrimSpace(parts[1]))
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func parseClock(raw string) (int, bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// envInt reads an int env var with a default value.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
