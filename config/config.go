package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nexus-bot/internal/subscription"
)

const defaultPlans = "daily:1:7990:1 Kunlik;monthly:30:69990:1 Oylik"

type AppConfig struct {
	BotToken    string
	ApproverIDs []int64
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Plans           []subscription.Plan
	PaymentCard     string
	CardHolder      string
	SupportUsername string
	WebAppURL       string
	CopilotURL      string

	SessionTTL            time.Duration
	ApprovalTTL           time.Duration
	MinApproverDeliveries int

	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIURL    string
	BingAPIKey   string
	BingURL      string
	AITimeout    time.Duration

	FreeQuestionsPerDay int
	ExpiryReminderDays  int
	BackupDir           string
	HealthAddr          string
	Workers             int

	SentryDSN string
	AppEnv    string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &AppConfig{
		BotToken:        get("BOT_TOKEN", ""),
		DatabaseURL:     get("DATABASE_URL", ""),
		RedisAddr:       get("REDIS_ADDR", ""),
		RedisPassword:   getenv("REDIS_PASSWORD"),
		PaymentCard:     get("PAYMENT_CARD", ""),
		CardHolder:      get("CARD_HOLDER", ""),
		SupportUsername: strings.TrimPrefix(get("SUPPORT_USERNAME", "@iultimatium"), "@"),
		WebAppURL:       get("WEBAPP_URL", "https://nexuswebapp-zeta.vercel.app"),
		CopilotURL:      get("COPILOT_URL", "https://www.bing.com/copilotsearch?form=MA13XW"),
		OpenAIAPIKey:    get("OPENAI_API_KEY", ""),
		OpenAIModel:     get("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIURL:       get("OPENAI_URL", "https://api.openai.com/v1/chat/completions"),
		BingAPIKey:      get("BING_API_KEY", ""),
		BingURL:         get("BING_URL", "https://api.bing.microsoft.com/v7.0/search"),
		BackupDir:       get("BACKUP_DIR", "backups"),
		HealthAddr:      get("HEALTH_ADDR", ":8080"),
		SentryDSN:       get("SENTRY_DSN", ""),
		AppEnv:          get("APP_ENV", "production"),
	}

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if cfg.PaymentCard == "" {
		missing = append(missing, "PAYMENT_CARD")
	}
	ids, err := parseIDs(getenv("APPROVER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("APPROVER_IDS: %w", err)
	}
	if len(ids) == 0 {
		missing = append(missing, "APPROVER_IDS")
	}
	cfg.ApproverIDs = ids
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	plans, err := ParsePlans(get("PLANS", defaultPlans))
	if err != nil {
		return nil, fmt.Errorf("PLANS: %w", err)
	}
	cfg.Plans = plans

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"REDIS_DB", 0, &cfg.RedisDB},
		{"MIN_APPROVER_DELIVERIES", 0, &cfg.MinApproverDeliveries},
		{"FREE_QUESTIONS_PER_DAY", 3, &cfg.FreeQuestionsPerDay},
		{"EXPIRY_REMINDER_DAYS", 3, &cfg.ExpiryReminderDays},
		{"WORKERS", 8, &cfg.Workers},
	}
	for _, it := range ints {
		v, err := parseInt(get(it.key, ""), it.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dest = v
	}
	if cfg.MinApproverDeliveries > len(cfg.ApproverIDs) {
		return nil, fmt.Errorf("MIN_APPROVER_DELIVERIES (%d) exceeds number of approvers (%d)", cfg.MinApproverDeliveries, len(cfg.ApproverIDs))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"SESSION_TTL", "24h", &cfg.SessionTTL},
		{"APPROVAL_TTL", "72h", &cfg.ApprovalTTL},
		{"AI_TIMEOUT", "60s", &cfg.AITimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(get(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dest = v
	}

	return cfg, nil
}

// IsApprover reports whether id belongs to the configured approver set.
func (c *AppConfig) IsApprover(id int64) bool {
	for _, a := range c.ApproverIDs {
		if a == id {
			return true
		}
	}
	return false
}

// ParsePlans parses "id:days:price:name;id:days:price:name".
func ParsePlans(raw string) ([]subscription.Plan, error) {
	var plans []subscription.Plan
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("plan %q: want id:days:price:name", entry)
		}
		days, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("plan %q: duration: %w", entry, err)
		}
		price, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("plan %q: price: %w", entry, err)
		}
		plans = append(plans, subscription.Plan{
			ID:           subscription.PlanID(strings.TrimSpace(parts[0])),
			DurationDays: days,
			Price:        price,
			Name:         strings.TrimSpace(parts[3]),
		})
	}
	if len(plans) == 0 {
		return nil, errors.New("no plans configured")
	}
	if _, err := subscription.NewCatalog(plans...); err != nil {
		return nil, err
	}
	return plans, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]bool)
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", s)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func parseInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative: %d", v)
	}
	return v, nil
}
