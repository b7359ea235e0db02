package model

import "time"

// Config holds all evidencegate configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Thresholds  Thresholds        `yaml:"thresholds" mapstructure:"thresholds"`
	Rating      RatingConfig      `yaml:"rating" mapstructure:"rating"`
	Reliability ReliabilityConfig `yaml:"reliability" mapstructure:"reliability"`
	Gates       GatesConfig       `yaml:"gates" mapstructure:"gates"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Policy      PolicyTables      `yaml:"policy" mapstructure:"policy"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StoreConfig selects the evidence store backend
type StoreConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"` // "memory" or "postgres"
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// LLMConfig configures the inference service
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, or empty (disabled)
	Model             string  `yaml:"model" mapstructure:"model"`
	APIKey            string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout           int     `yaml:"timeout" mapstructure:"timeout"` // seconds, per call
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	SentenceBatchSize int     `yaml:"sentence_batch_size" mapstructure:"sentence_batch_size"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Thresholds are the citation, contradiction and tribunal cut-offs
type Thresholds struct {
	CitationPass           float64       `yaml:"citation_pass" mapstructure:"citation_pass"`
	CitationWarn           float64       `yaml:"citation_warn" mapstructure:"citation_warn"`
	DiscrepancyMinor       float64       `yaml:"discrepancy_minor" mapstructure:"discrepancy_minor"`
	DiscrepancySignificant float64       `yaml:"discrepancy_significant" mapstructure:"discrepancy_significant"`
	DiscrepancyMajor       float64       `yaml:"discrepancy_major" mapstructure:"discrepancy_major"`
	TribunalReuseWindow    time.Duration `yaml:"tribunal_reuse_window" mapstructure:"tribunal_reuse_window"`
}

// RatingWeights are the confidence criteria weights; they must sum to 1
type RatingWeights struct {
	SourceCredibility float64 `yaml:"source_credibility" mapstructure:"source_credibility"`
	DataCompleteness  float64 `yaml:"data_completeness" mapstructure:"data_completeness"`
	Timeliness        float64 `yaml:"timeliness" mapstructure:"timeliness"`
	Consistency       float64 `yaml:"consistency" mapstructure:"consistency"`
	Methodology       float64 `yaml:"methodology" mapstructure:"methodology"`
}

// Sum returns the total weight
func (w RatingWeights) Sum() float64 {
	return w.SourceCredibility + w.DataCompleteness + w.Timeliness + w.Consistency + w.Methodology
}

// RatingConfig configures the confidence rating engine
type RatingConfig struct {
	Weights              RatingWeights `yaml:"weights" mapstructure:"weights"`
	GradeA               int           `yaml:"grade_a" mapstructure:"grade_a"`
	GradeB               int           `yaml:"grade_b" mapstructure:"grade_b"`
	GradeC               int           `yaml:"grade_c" mapstructure:"grade_c"`
	ContradictionPenalty int           `yaml:"contradiction_penalty" mapstructure:"contradiction_penalty"`
}

// ReliabilityConfig configures the reliability lab
type ReliabilityConfig struct {
	PassThreshold  float64       `yaml:"pass_threshold" mapstructure:"pass_threshold"`
	MinCoverage    float64       `yaml:"min_coverage" mapstructure:"min_coverage"`
	MaxRunAge      time.Duration `yaml:"max_run_age" mapstructure:"max_run_age"`
	InterTestDelay time.Duration `yaml:"inter_test_delay" mapstructure:"inter_test_delay"`
	BatteryFile    string        `yaml:"battery_file,omitempty" mapstructure:"battery_file"`

	// ContradictionResolved is the tribunal contradiction score below which a test counts as resolved
	ContradictionResolved float64 `yaml:"contradiction_resolved" mapstructure:"contradiction_resolved"`
}

// GatesConfig configures the publishing gate pipeline
type GatesConfig struct {
	MinPassedGates    int `yaml:"min_passed_gates" mapstructure:"min_passed_gates"`
	RejectBelowPassed int `yaml:"reject_below_passed" mapstructure:"reject_below_passed"`
	AutoPublishScore  int `yaml:"auto_publish_score" mapstructure:"auto_publish_score"`
	PublicScore       int `yaml:"public_score" mapstructure:"public_score"`
	VIPScore          int `yaml:"vip_score" mapstructure:"vip_score"`
	QualityPassScore  int `yaml:"quality_pass_score" mapstructure:"quality_pass_score"`
}

// CacheConfig configures the source registry cache
type CacheConfig struct {
	SourceTTL       time.Duration `yaml:"source_ttl" mapstructure:"source_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   5 * time.Minute, // tribunal runs are slow
			AllowedOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
			AutoMigrate:  true,
		},
		LLM: LLMConfig{
			Provider:          "", // Disabled by default
			Timeout:           30,
			MaxTokens:         2000,
			MaxRetries:        2,
			RequestsPerSecond: 2,
			Burst:             2,
			SentenceBatchSize: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Thresholds:  DefaultThresholds(),
		Rating:      DefaultRatingConfig(),
		Reliability: DefaultReliabilityConfig(),
		Gates:       DefaultGatesConfig(),
		Cache: CacheConfig{
			SourceTTL:       10 * time.Minute,
			CleanupInterval: 20 * time.Minute,
		},
		Policy: DefaultPolicyTables(),
	}
}

// DefaultThresholds returns the standard decision thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		CitationPass:           95,
		CitationWarn:           85,
		DiscrepancyMinor:       5,
		DiscrepancySignificant: 15,
		DiscrepancyMajor:       30,
		TribunalReuseWindow:    24 * time.Hour,
	}
}

// DefaultRatingConfig returns the standard rating weights and grade cut-offs
func DefaultRatingConfig() RatingConfig {
	return RatingConfig{
		Weights: RatingWeights{
			SourceCredibility: 0.30,
			DataCompleteness:  0.20,
			Timeliness:        0.20,
			Consistency:       0.15,
			Methodology:       0.15,
		},
		GradeA:               85,
		GradeB:               70,
		GradeC:               50,
		ContradictionPenalty: 20,
	}
}

// DefaultReliabilityConfig returns the standard reliability lab settings
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		PassThreshold:  85,
		MinCoverage:    85,
		MaxRunAge:      24 * time.Hour,
		InterTestDelay: 500 * time.Millisecond,

		ContradictionResolved: 30,
	}
}

// DefaultGatesConfig returns the standard gate pipeline settings
func DefaultGatesConfig() GatesConfig {
	return GatesConfig{
		MinPassedGates:    5,
		RejectBelowPassed: 3,
		AutoPublishScore:  90,
		PublicScore:       80,
		VIPScore:          60,
		QualityPassScore:  70,
	}
}
