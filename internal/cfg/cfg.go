package cfg

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string

	// PII vault
	Pepper             string
	PepperVersion      string
	RequirePepper      bool
	VaultKeyHex        string
	ApprovalTTLSeconds int

	// Intake
	ReviewThreshold      float64
	HighPriority         float64
	KeywordMinLen        int
	RetryIntervalSeconds int
	RetryLimit           int

	// Dossiers
	ArtifactBaseURL   string
	RemoteUploadURL   string
	ManifestAlgorithm string

	// Integrations
	ClaudeAPIKey    string
	ClaudeModel     string
	SlackWebhookURL string

	// AuthTokens lists bearer credentials as actor=token pairs separated by
	// commas, e.g. "analyst@i4g.org=s3cret,lead@i4g.org=0ther".
	AuthTokens string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")

	fs.StringVar(&c.Pepper, "pepper", "", "HMAC pepper for deterministic PII tokens")
	fs.StringVar(&c.PepperVersion, "pepper-version", "v1", "version label recorded with every token")
	fs.BoolVar(&c.RequirePepper, "require-pepper", false, "refuse to tokenize without a configured pepper")
	fs.StringVar(&c.VaultKeyHex, "vault-key", "", "hex-encoded 32-byte AES key for encrypting vault values (empty = store digests only)")
	fs.IntVar(&c.ApprovalTTLSeconds, "approval-ttl-seconds", 3600, "seconds a detokenization approval stays valid")

	fs.Float64Var(&c.ReviewThreshold, "review-threshold", 0.6, "fraud confidence at which ingested cases enter the review queue (0..1)")
	fs.Float64Var(&c.HighPriority, "high-priority-threshold", 0.9, "fraud confidence at which queued reviews are marked high priority (0..1)")
	fs.IntVar(&c.KeywordMinLen, "keyword-min-len", 2, "minimum keyword token length extracted from case text")
	fs.IntVar(&c.RetryIntervalSeconds, "retry-interval-seconds", 30, "seconds between ingestion retry sweeps")
	fs.IntVar(&c.RetryLimit, "retry-limit", 3, "attempts before a failed submission is dropped from the retry queue")

	fs.StringVar(&c.ArtifactBaseURL, "artifact-base-url", "", "storage URL for dossier artifacts (empty = dossiers disabled)")
	fs.StringVar(&c.RemoteUploadURL, "remote-upload-url", "", "optional remote storage URL dossier artifacts are mirrored to")
	fs.StringVar(&c.ManifestAlgorithm, "manifest-algorithm", "sha256", "hash algorithm for dossier signature manifests")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude narrative generation (empty = no narratives)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")

	fs.StringVar(&c.AuthTokens, "auth-tokens", "", "comma-separated actor=token bearer credentials (empty = auth disabled)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.RequirePepper && c.Pepper == "" {
		errs = append(errs, errors.New("PEPPER is required when REQUIRE_PEPPER is set"))
	}
	if c.PepperVersion == "" {
		errs = append(errs, errors.New("PEPPER_VERSION must not be empty"))
	}
	if _, err := c.VaultKey(); err != nil {
		errs = append(errs, err)
	}
	if c.ApprovalTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid APPROVAL_TTL_SECONDS %d (must be positive)", c.ApprovalTTLSeconds))
	}

	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid REVIEW_THRESHOLD %v (must be 0..1)", c.ReviewThreshold))
	}
	if c.HighPriority < 0 || c.HighPriority > 1 {
		errs = append(errs, fmt.Errorf("invalid HIGH_PRIORITY_THRESHOLD %v (must be 0..1)", c.HighPriority))
	}
	if c.HighPriority < c.ReviewThreshold {
		errs = append(errs, fmt.Errorf("HIGH_PRIORITY_THRESHOLD %v must not be below REVIEW_THRESHOLD %v", c.HighPriority, c.ReviewThreshold))
	}
	if c.KeywordMinLen < 1 {
		errs = append(errs, fmt.Errorf("invalid KEYWORD_MIN_LEN %d (must be >= 1)", c.KeywordMinLen))
	}
	if c.RetryIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETRY_INTERVAL_SECONDS %d (must be positive)", c.RetryIntervalSeconds))
	}
	if c.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid RETRY_LIMIT %d (must be >= 0)", c.RetryLimit))
	}

	if c.RemoteUploadURL != "" && c.ArtifactBaseURL == "" {
		errs = append(errs, errors.New("REMOTE_UPLOAD_URL requires ARTIFACT_BASE_URL"))
	}
	if c.ManifestAlgorithm == "" {
		errs = append(errs, errors.New("MANIFEST_ALGORITHM must not be empty"))
	}

	if _, err := c.AuthTokenMap(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// VaultKey decodes the configured hex key. An empty setting returns nil,
// which disables value encryption.
func (c *Config) VaultKey() ([]byte, error) {
	if c.VaultKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.VaultKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid VAULT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid VAULT_KEY: got %d bytes, want 32", len(key))
	}
	return key, nil
}

// AuthTokenMap parses AuthTokens into token -> actor. Empty config yields an
// empty map.
func (c *Config) AuthTokenMap() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(c.AuthTokens) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.AuthTokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		actor, token, ok := strings.Cut(pair, "=")
		actor, token = strings.TrimSpace(actor), strings.TrimSpace(token)
		if !ok || actor == "" || token == "" {
			return nil, fmt.Errorf("invalid AUTH_TOKENS entry %q (want actor=token)", pair)
		}
		if existing, dup := out[token]; dup && existing != actor {
			return nil, fmt.Errorf("AUTH_TOKENS token shared by %q and %q", existing, actor)
		}
		out[token] = actor
	}
	return out, nil
}
