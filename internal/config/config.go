// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// PDF text engines.
const (
	EnginePDFCPU    = "pdfcpu"
	EnginePDFToText = "pdftotext"
)

// Tracking backends.
const (
	TrackingNotion    = "notion"
	TrackingSQLite    = "sqlite"
	TrackingBigQuery  = "bigquery"
	TrackingFirestore = "firestore"
	TrackingMemory    = "memory"
)

// Config holds all configuration for statement-sync.
type Config struct {
	Notion   NotionConfig
	LLM      LLMConfig
	PDF      PDFConfig
	Tracking TrackingConfig
	Timeouts TimeoutConfig
	Retry    RetryConfig
	Ledger   LedgerConfig
	Log      LogConfig
}

// NotionConfig holds the workspace database platform settings.
type NotionConfig struct {
	APIKey             string
	IntakeDatabaseID   string
	LedgerParentPageID string
	FilesProperty      string
	RespondentProperty string
	ProcessedProperty  string
	RateLimit          float64 // requests per second
}

// LLMConfig holds the completion service settings.
type LLMConfig struct {
	Provider        string
	GeminiModel     string
	GoogleAPIKey    string
	UseVertexAI     bool
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	Temperature     float32
	MaxOutputTokens int32
	MaxInputChars   int
}

// PDFConfig selects and configures the text extraction engine.
type PDFConfig struct {
	Engine        string
	PdftotextPath string
}

// TrackingConfig selects where processing status is kept.
type TrackingConfig struct {
	Backend             string
	SQLitePath          string
	GCPProjectID        string
	BigQueryDataset     string
	FirestoreCollection string
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	Fetch      time.Duration
	Completion time.Duration
	Platform   time.Duration
}

// RetryConfig configures the retry policy for completion and platform calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// LedgerConfig controls ledger resolution and writing.
type LedgerConfig struct {
	CacheTTL     time.Duration
	PurgeOnRetry bool
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string
	Format string
}

// LoadDotEnv loads a .env file from the current directory, falling back to the
// parent directory. A missing file is not an error.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil {
		err = godotenv.Load("../.env")
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Load reads configuration from the environment. Malformed numeric, boolean or
// duration values are reported together; defaults apply to unset keys.
func Load() (*Config, error) {
	var l loader

	cfg := &Config{
		Notion: NotionConfig{
			APIKey:             l.str("NOTION_API_KEY", ""),
			IntakeDatabaseID:   l.str("NOTION_INTAKE_DATABASE_ID", ""),
			LedgerParentPageID: l.str("NOTION_LEDGER_PARENT_PAGE_ID", ""),
			FilesProperty:      l.str("NOTION_FILES_PROPERTY", "upload your bank statement"),
			RespondentProperty: l.str("NOTION_RESPONDENT_PROPERTY", "Respondent"),
			ProcessedProperty:  l.str("NOTION_PROCESSED_PROPERTY", "Processed"),
			RateLimit:          l.float("NOTION_RATE_LIMIT", 3),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(l.str("LLM_PROVIDER", ProviderGemini)),
			GeminiModel:     l.str("GEMINI_MODEL", "gemini-2.5-flash"),
			GoogleAPIKey:    firstNonEmpty(l.str("GOOGLE_API_KEY", ""), l.str("GEMINI_API_KEY", "")),
			UseVertexAI:     l.boolean("GOOGLE_GENAI_USE_VERTEXAI", false),
			OpenAIAPIKey:    l.str("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   l.str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIModel:     l.str("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature:     float32(l.float("LLM_TEMPERATURE", 0.2)),
			MaxOutputTokens: int32(l.integer("LLM_MAX_OUTPUT_TOKENS", 8192)),
			MaxInputChars:   l.integer("LLM_MAX_INPUT_CHARS", 60000),
		},
		PDF: PDFConfig{
			Engine:        strings.ToLower(l.str("PDF_TEXT_ENGINE", EnginePDFCPU)),
			PdftotextPath: l.str("PDFTOTEXT_PATH", "pdftotext"),
		},
		Tracking: TrackingConfig{
			Backend:             strings.ToLower(l.str("TRACKING_BACKEND", TrackingNotion)),
			SQLitePath:          l.str("SQLITE_PATH", "./statementsync.db"),
			GCPProjectID:        firstNonEmpty(l.str("GCP_PROJECT_ID", ""), l.str("GOOGLE_CLOUD_PROJECT", "")),
			BigQueryDataset:     l.str("BIGQUERY_DATASET", "statementsync"),
			FirestoreCollection: l.str("FIRESTORE_COLLECTION", "processing_ledger"),
		},
		Timeouts: TimeoutConfig{
			Fetch:      l.duration("FETCH_TIMEOUT", 60*time.Second),
			Completion: l.duration("COMPLETION_TIMEOUT", 2*time.Minute),
			Platform:   l.duration("PLATFORM_TIMEOUT", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: l.integer("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   l.duration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:    l.duration("RETRY_MAX_DELAY", 30*time.Second),
		},
		Ledger: LedgerConfig{
			CacheTTL:     l.duration("LEDGER_CACHE_TTL", 30*time.Minute),
			PurgeOnRetry: l.boolean("LEDGER_PURGE_ON_RETRY", true),
		},
		Log: LogConfig{
			Level:  l.str("LOG_LEVEL", "info"),
			Format: strings.ToLower(l.str("LOG_FORMAT", "console")),
		},
	}

	if len(l.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrFatalConfiguration, errors.Join(l.errs...))
	}
	return cfg, nil
}

// Validate checks every section needed for a full run.
func (c *Config) Validate() error {
	return errors.Join(c.ValidateNotion(true), c.ValidateLLM(), c.ValidatePDF(), c.ValidateTracking(), c.validateCommon())
}

// ValidateNotion checks the Notion settings. The ledger parent page is only
// required when ledgers are resolved or written.
func (c *Config) ValidateNotion(needLedgerParent bool) error {
	var errs []error
	if c.Notion.APIKey == "" {
		errs = append(errs, missing("NOTION_API_KEY"))
	}
	if c.Notion.IntakeDatabaseID == "" {
		errs = append(errs, missing("NOTION_INTAKE_DATABASE_ID"))
	}
	if needLedgerParent && c.Notion.LedgerParentPageID == "" {
		errs = append(errs, missing("NOTION_LEDGER_PARENT_PAGE_ID"))
	}
	if c.Notion.RateLimit <= 0 {
		errs = append(errs, invalid("NOTION_RATE_LIMIT", "must be positive"))
	}
	return fatal(errs)
}

// ValidateLLM checks the completion service settings.
func (c *Config) ValidateLLM() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GoogleAPIKey == "" && !c.LLM.UseVertexAI {
			errs = append(errs, missing("GOOGLE_API_KEY (or GOOGLE_GENAI_USE_VERTEXAI=true)"))
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			errs = append(errs, missing("OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, invalid("LLM_PROVIDER", "must be gemini or openai"))
	}
	if c.LLM.MaxInputChars <= 0 {
		errs = append(errs, invalid("LLM_MAX_INPUT_CHARS", "must be positive"))
	}
	return fatal(errs)
}

// ValidatePDF checks the text engine selection.
func (c *Config) ValidatePDF() error {
	switch c.PDF.Engine {
	case EnginePDFCPU, EnginePDFToText:
		return nil
	default:
		return fatal([]error{invalid("PDF_TEXT_ENGINE", "must be pdfcpu or pdftotext")})
	}
}

// ValidateTracking checks the tracking backend settings.
func (c *Config) ValidateTracking() error {
	var errs []error
	switch c.Tracking.Backend {
	case TrackingNotion, TrackingMemory:
	case TrackingSQLite:
		if c.Tracking.SQLitePath == "" {
			errs = append(errs, missing("SQLITE_PATH"))
		}
	case TrackingBigQuery:
		if c.Tracking.GCPProjectID == "" {
			errs = append(errs, missing("GCP_PROJECT_ID"))
		}
		if c.Tracking.BigQueryDataset == "" {
			errs = append(errs, missing("BIGQUERY_DATASET"))
		}
	case TrackingFirestore:
		if c.Tracking.GCPProjectID == "" {
			errs = append(errs, missing("GCP_PROJECT_ID"))
		}
	default:
		errs = append(errs, invalid("TRACKING_BACKEND", "must be notion, sqlite, bigquery, firestore or memory"))
	}
	return fatal(errs)
}

func (c *Config) validateCommon() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, invalid("RETRY_MAX_ATTEMPTS", "must be at least 1"))
	}
	if c.Timeouts.Fetch <= 0 || c.Timeouts.Completion <= 0 || c.Timeouts.Platform <= 0 {
		errs = append(errs, invalid("FETCH_TIMEOUT/COMPLETION_TIMEOUT/PLATFORM_TIMEOUT", "must be positive"))
	}
	return fatal(errs)
}

func fatal(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrFatalConfiguration, errors.Join(errs...))
}

func missing(key string) error {
	return fmt.Errorf("%s is required", key)
}

func invalid(key, reason string) error {
	return fmt.Errorf("%s %s", key, reason)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loader reads typed environment values and collects parse errors.
type loader struct {
	errs []error
}

func (l *loader) str(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (l *loader) integer(key string, fallback int) int {
	raw := l.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	raw := l.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return fallback
	}
	return v
}

func (l *loader) boolean(key string, fallback bool) bool {
	raw := l.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return v
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := l.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return v
}
