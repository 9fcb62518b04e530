// Package config holds the engine configuration: every policy threshold,
// the storage and oracle backends, and the ambient logging and server
// settings.
package config

import "time"

// Config is the top-level configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" json:"log" jsonschema:"description=Logging output"`
	Store      StoreConfig      `yaml:"store" json:"store" jsonschema:"description=Learned-rule store backend"`
	Escalation EscalationConfig `yaml:"escalation" json:"escalation" jsonschema:"description=Escalation ladder thresholds and stage timeouts"`
	Collect    CollectConfig    `yaml:"collect" json:"collect" jsonschema:"description=Constraint and value collectors"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" json:"synthesis" jsonschema:"description=Judgment synthesizer strategy policy"`
	Fermi      FermiConfig      `yaml:"fermi" json:"fermi" jsonschema:"description=Recursive decomposition"`
	Learning   LearningConfig   `yaml:"learning" json:"learning" jsonschema:"description=Learning writer quality gates"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle" jsonschema:"description=External knowledge backends"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings" jsonschema:"description=Similarity search embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server" jsonschema:"description=HTTP service"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is the minimum level logged.
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// File, when set, writes rotating JSON logs there instead of stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty" jsonschema:"description=Rotating JSON log file; stderr when empty"`

	MaxSizeMB  int `yaml:"max_size_mb" json:"max_size_mb" validate:"gte=1" jsonschema:"default=10"`
	MaxBackups int `yaml:"max_backups" json:"max_backups" validate:"gte=0" jsonschema:"default=3"`
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days" validate:"gte=0" jsonschema:"default=28"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// StoreConfig selects the learned-rule store.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"oneof=memory sqlite badger" jsonschema:"enum=memory,enum=sqlite,enum=badger,default=sqlite"`

	// Path is the database file (sqlite) or directory (badger). Empty
	// means in-memory for sqlite.
	Path string `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Backend badger" jsonschema:"description=Database file or directory"`
}

// Timeouts bounds each escalation stage.
type Timeouts struct {
	RuleSearch    time.Duration `yaml:"rule_search" json:"rule_search" validate:"gte=0" jsonschema:"type=string,default=500ms"`
	Authoritative time.Duration `yaml:"authoritative" json:"authoritative" validate:"gte=0" jsonschema:"type=string,default=3s"`
	Guestimate    time.Duration `yaml:"guestimate" json:"guestimate" validate:"gte=0" jsonschema:"type=string,default=8s"`
	Fermi         time.Duration `yaml:"fermi" json:"fermi" validate:"gte=0" jsonschema:"type=string,default=30s"`
}

// EscalationConfig configures the ladder.
type EscalationConfig struct {
	RuleSimilarity          float64  `yaml:"rule_similarity" json:"rule_similarity" validate:"gt=0,lte=1" jsonschema:"minimum=0,maximum=1,default=0.95"`
	ContextMatch            float64  `yaml:"context_match" json:"context_match" validate:"gt=0,lte=1" jsonschema:"minimum=0,maximum=1,default=0.8"`
	AuthoritativeConfidence float64  `yaml:"authoritative_confidence" json:"authoritative_confidence" validate:"gt=0,lte=1" jsonschema:"minimum=0,maximum=1,default=0.95"`
	Timeouts                Timeouts `yaml:"timeouts" json:"timeouts"`
}

// CollectConfig configures the collectors.
type CollectConfig struct {
	MaxParallel         int           `yaml:"max_parallel" json:"max_parallel" validate:"gte=1" jsonschema:"default=4"`
	PerCollectorTimeout time.Duration `yaml:"per_collector_timeout" json:"per_collector_timeout" validate:"gte=0" jsonschema:"type=string,default=5s"`

	PaybackCeilingMonths float64 `yaml:"payback_ceiling_months" json:"payback_ceiling_months" validate:"gt=0" jsonschema:"default=60"`
	MaxWidthRatio        float64 `yaml:"max_width_ratio" json:"max_width_ratio" validate:"gt=1" jsonschema:"default=10000"`

	ConsensusBand  float64 `yaml:"consensus_band" json:"consensus_band" validate:"gt=0,lt=1" jsonschema:"default=0.3"`
	TrustThreshold float64 `yaml:"trust_threshold" json:"trust_threshold" validate:"gt=0,lte=1" jsonschema:"default=0.75"`
	SearchLimit    int     `yaml:"search_limit" json:"search_limit" validate:"gte=1" jsonschema:"default=5"`

	// Benchmarks and Patterns are optional YAML data files.
	Benchmarks       string  `yaml:"benchmarks,omitempty" json:"benchmarks,omitempty" jsonschema:"description=YAML list of domain benchmarks"`
	BenchmarkFloor   float64 `yaml:"benchmark_floor" json:"benchmark_floor" validate:"gte=0,lt=1" jsonschema:"default=0.6"`
	Patterns         string  `yaml:"patterns,omitempty" json:"patterns,omitempty" jsonschema:"description=YAML list of statistical patterns"`
	DisableSoftRules bool    `yaml:"disable_soft_rules,omitempty" json:"disable_soft_rules,omitempty"`
}

// SynthesisConfig configures strategy selection.
type SynthesisConfig struct {
	RangeCV              float64 `yaml:"range_cv" json:"range_cv" validate:"gt=0" jsonschema:"default=0.5"`
	SingleBestGap        float64 `yaml:"single_best_gap" json:"single_best_gap" validate:"gte=0,lte=1" jsonschema:"default=0.3"`
	SingleBestFloor      float64 `yaml:"single_best_floor" json:"single_best_floor" validate:"gte=0,lte=1" jsonschema:"default=0.9"`
	ConservativeTopK     int     `yaml:"conservative_top_k" json:"conservative_top_k" validate:"gte=1" jsonschema:"default=3"`
	ConservativeDiscount float64 `yaml:"conservative_discount" json:"conservative_discount" validate:"gt=0,lte=1" jsonschema:"default=0.9"`
	RangeConfidence      float64 `yaml:"range_confidence" json:"range_confidence" validate:"gt=0,lte=1" jsonschema:"default=0.6"`
}

// FermiConfig configures decomposition.
type FermiConfig struct {
	MaxDepth             int `yaml:"max_depth" json:"max_depth" validate:"gte=1,lte=10" jsonschema:"default=4"`
	MaxCandidates        int `yaml:"max_candidates" json:"max_candidates" validate:"gte=1" jsonschema:"default=5"`
	MaxParallel          int `yaml:"max_parallel" json:"max_parallel" validate:"gte=1" jsonschema:"default=4"`
	RecommendedVariables int `yaml:"recommended_variables" json:"recommended_variables" validate:"gte=1" jsonschema:"default=6"`
	MaxVariables         int `yaml:"max_variables" json:"max_variables" validate:"gtefield=RecommendedVariables" jsonschema:"default=10"`

	// Templates is an optional YAML file of extra formula templates.
	Templates string `yaml:"templates,omitempty" json:"templates,omitempty" jsonschema:"description=YAML list of extra formula templates"`
}

// LearningConfig configures the learning writer.
type LearningConfig struct {
	Enabled                  bool    `yaml:"enabled" json:"enabled" jsonschema:"default=true"`
	MinConfidence            float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1" jsonschema:"default=0.8"`
	MinEvidence              int     `yaml:"min_evidence" json:"min_evidence" validate:"gte=1" jsonschema:"default=2"`
	SingleEvidenceConfidence float64 `yaml:"single_evidence_confidence" json:"single_evidence_confidence" validate:"gtefield=MinConfidence,lte=1" jsonschema:"default=0.9"`
}

// OracleConfig configures the external knowledge backends. Every backend
// is optional; with none configured the engine relies on facts, learned
// rules and local data.
type OracleConfig struct {
	// Reference is an optional YAML file of authoritative answers.
	Reference string `yaml:"reference,omitempty" json:"reference,omitempty" jsonschema:"description=YAML file of authoritative reference answers"`

	LLM LLMConfig `yaml:"llm" json:"llm"`
	Web WebConfig `yaml:"web" json:"web"`

	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0" jsonschema:"default=2"`
	FailureThreshold  int           `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=1" jsonschema:"default=5"`
	Cooldown          time.Duration `yaml:"cooldown" json:"cooldown" validate:"gte=0" jsonschema:"type=string,default=30s"`
}

// LLMConfig configures the language-model oracle and model generator.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" jsonschema:"default=false"`
	Model   string `yaml:"model" json:"model" validate:"required_if=Enabled true" jsonschema:"default=claude-haiku-4-5"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env" jsonschema:"default=ANTHROPIC_API_KEY"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens" validate:"gte=1" jsonschema:"default=600"`
}

// WebConfig configures web retrieval.
type WebConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false"`
	Endpoint   string        `yaml:"endpoint" json:"endpoint" validate:"required_if=Enabled true"`
	FetchPages int           `yaml:"fetch_pages" json:"fetch_pages" validate:"gte=0" jsonschema:"default=3"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0" jsonschema:"type=string,default=10s"`
}

// Embedding providers.
const (
	EmbeddingsHashing = "hashing"
	EmbeddingsOpenAI  = "openai"
)

// EmbeddingsConfig selects the similarity provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider" validate:"oneof=hashing openai" jsonschema:"enum=hashing,enum=openai,default=hashing"`
	Model      string `yaml:"model,omitempty" json:"model,omitempty"`
	Dimensions int    `yaml:"dimensions" json:"dimensions" validate:"gte=0"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size" validate:"gte=0" jsonschema:"default=1000"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required" jsonschema:"default=:8080"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gte=0" jsonschema:"type=string,default=60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0" jsonschema:"type=string,default=10s"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Store: StoreConfig{Backend: BackendSQLite},
		Escalation: EscalationConfig{
			RuleSimilarity:          0.95,
			ContextMatch:            0.80,
			AuthoritativeConfidence: 0.95,
			Timeouts: Timeouts{
				RuleSearch:    500 * time.Millisecond,
				Authoritative: 3 * time.Second,
				Guestimate:    8 * time.Second,
				Fermi:         30 * time.Second,
			},
		},
		Collect: CollectConfig{
			MaxParallel:          4,
			PerCollectorTimeout:  5 * time.Second,
			PaybackCeilingMonths: 60,
			MaxWidthRatio:        10_000,
			ConsensusBand:        0.3,
			TrustThreshold:       0.75,
			SearchLimit:          5,
			BenchmarkFloor:       0.6,
		},
		Synthesis: SynthesisConfig{
			RangeCV:              0.5,
			SingleBestGap:        0.3,
			SingleBestFloor:      0.9,
			ConservativeTopK:     3,
			ConservativeDiscount: 0.9,
			RangeConfidence:      0.6,
		},
		Fermi: FermiConfig{
			MaxDepth:             4,
			MaxCandidates:        5,
			MaxParallel:          4,
			RecommendedVariables: 6,
			MaxVariables:         10,
		},
		Learning: LearningConfig{
			Enabled:                  true,
			MinConfidence:            0.8,
			MinEvidence:              2,
			SingleEvidenceConfidence: 0.9,
		},
		Oracle: OracleConfig{
			LLM: LLMConfig{
				Model:     "claude-haiku-4-5",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				MaxTokens: 600,
			},
			Web: WebConfig{
				Endpoint:   "https://html.duckduckgo.com/html/?q={query}",
				FetchPages: 3,
				Timeout:    10 * time.Second,
			},
			RequestsPerSecond: 2,
			FailureThreshold:  5,
			Cooldown:          30 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  EmbeddingsHashing,
			CacheSize: 1000,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}
