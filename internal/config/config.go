// Package config loads the research engine's YAML configuration document:
// model endpoints, budgets, scheduler slot caps, and feature flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all research-engine configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Policy    PolicyConfig    `yaml:"policy"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Inference InferenceConfig `yaml:"inference"`
	AuthQueue AuthQueueConfig `yaml:"auth_queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig configures the durable sqlite mirror.
type StoreConfig struct {
	Path             string `yaml:"path"`
	MigrationsDir    string `yaml:"migrations_dir"`
	VectorDimensions int    `yaml:"vector_dimensions"`
}

// SchedulerConfig configures slot caps, priorities, and budget defaults.
type SchedulerConfig struct {
	GPUSlots                  int            `yaml:"gpu_slots"`
	BrowserHeadfulSlots        int            `yaml:"browser_headful_slots"`
	NetworkClientSlots         int            `yaml:"network_client_slots"`
	CPUNLPSlots                int            `yaml:"cpu_nlp_slots"` // 0 = runtime.NumCPU()
	PerDomainConcurrency       int            `yaml:"per_domain_concurrency"`
	RetryBaseDelay             time.Duration  `yaml:"retry_base_delay"`
	RetryMaxDelay              time.Duration  `yaml:"retry_max_delay"`
	RetryJitterFraction        float64        `yaml:"retry_jitter_fraction"`
	MaxConsecutive429          int            `yaml:"max_consecutive_429"`
	ProviderMaxConsecutive429  map[string]int `yaml:"provider_max_consecutive_429"`
	SerpMaxPages               int            `yaml:"serp_max_pages"`
	PipelineStepTimeout        time.Duration  `yaml:"pipeline_step_timeout"`
	FetchRungTimeout           time.Duration  `yaml:"fetch_rung_timeout"`
	LLMCallTimeout             time.Duration  `yaml:"llm_call_timeout"`
}

// PolicyConfig configures the domain policy store / breaker thresholds.
type PolicyConfig struct {
	ConsecutiveFailuresToOpen int           `yaml:"consecutive_failures_to_open"`
	CooldownBase              time.Duration `yaml:"cooldown_base"`
	CooldownMax               time.Duration `yaml:"cooldown_max"`
	PrimaryDomains            []string      `yaml:"primary_domains"`
	GovernmentDomains         []string      `yaml:"government_domains"`
	AcademicDomains           []string      `yaml:"academic_domains"`
	SatisfactionThreshold     float64       `yaml:"satisfaction_threshold"`
	NoveltyMin                float64       `yaml:"novelty_min"`
	NoveltyWindowSize         int           `yaml:"novelty_window_size"`
}

// FetchConfig configures fetch rungs.
type FetchConfig struct {
	UserAgent          string `yaml:"user_agent"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes"`
	TorProxyAddr       string `yaml:"tor_proxy_addr"`
	BrowserDebuggerURL string `yaml:"browser_debugger_url"`
	BrowserHeadless    bool   `yaml:"browser_headless_default"`
	ArchiveBaseURL     string `yaml:"archive_base_url"`
}

// InferenceConfig configures the inference gateway.
type InferenceConfig struct {
	Provider         string `yaml:"provider"` // "genai" | "ollama"
	GenAIAPIKey      string `yaml:"genai_api_key"`
	GenAIEmbedModel  string `yaml:"genai_embed_model"`
	GenAIChatModel   string `yaml:"genai_chat_model"`
	OllamaEndpoint   string `yaml:"ollama_endpoint"`
	OllamaEmbedModel string `yaml:"ollama_embed_model"`
	CalibrationMinSamples int `yaml:"calibration_min_samples"`
}

// AuthQueueConfig configures the auth-wait queue's staleness surfacing.
type AuthQueueConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
}

// PipelineConfig configures the pipeline executor's plan/rank/classify/
// citation steps.
type PipelineConfig struct {
	StepTimeout          time.Duration `yaml:"step_timeout"`
	SERPURLTemplate      string        `yaml:"serp_url_template"` // %s = URL-escaped query
	AcademicAPIURL       string        `yaml:"academic_api_url"`  // %s = URL-escaped query
	RankTopK             int           `yaml:"rank_top_k"`
	ClassifyTopM         int           `yaml:"classify_top_m"`
	MinFragmentLength    int           `yaml:"min_fragment_length"`
	CitationIterationCap int           `yaml:"citation_iteration_cap"`

	// Per-provider rate-limit settings consulted via policy.Store.Limiter
	// before every SERP/academic-API call, per spec §4.2's token-bucket
	// politeness mechanism.
	SERPMinInterval     time.Duration `yaml:"serp_min_interval"`
	SERPMaxParallel     int           `yaml:"serp_max_parallel"`
	SERPAcquireWait     time.Duration `yaml:"serp_acquire_wait"`
	AcademicMinInterval time.Duration `yaml:"academic_min_interval"`
	AcademicMaxParallel int           `yaml:"academic_max_parallel"`
	AcademicAcquireWait time.Duration `yaml:"academic_acquire_wait"`
}

// LoggingConfig mirrors internal/logging's expectations.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Store: StoreConfig{
			Path:             "data/research.db",
			MigrationsDir:    "migrations",
			VectorDimensions: 768,
		},
		Scheduler: SchedulerConfig{
			GPUSlots:                  1,
			BrowserHeadfulSlots:       1,
			NetworkClientSlots:        4,
			CPUNLPSlots:               0,
			PerDomainConcurrency:      1,
			RetryBaseDelay:            500 * time.Millisecond,
			RetryMaxDelay:             4 * time.Second,
			RetryJitterFraction:       0.10,
			MaxConsecutive429:         3,
			ProviderMaxConsecutive429: map[string]int{},
			SerpMaxPages:              2,
			PipelineStepTimeout:       300 * time.Second,
			FetchRungTimeout:          60 * time.Second,
			LLMCallTimeout:            120 * time.Second,
		},
		Policy: PolicyConfig{
			ConsecutiveFailuresToOpen: 2,
			CooldownBase:              30 * time.Minute,
			CooldownMax:               120 * time.Minute,
			PrimaryDomains:            []string{},
			GovernmentDomains:         []string{".gov"},
			AcademicDomains:           []string{".edu", "arxiv.org", "doi.org"},
			SatisfactionThreshold:     0.8,
			NoveltyMin:                0.1,
			NoveltyWindowSize:         10,
		},
		Fetch: FetchConfig{
			UserAgent:    "Mozilla/5.0 (compatible; research-engine/1.0)",
			MaxBodyBytes: 8 << 20,
		},
		Inference: InferenceConfig{
			Provider:              "ollama",
			GenAIEmbedModel:       "gemini-embedding-001",
			GenAIChatModel:        "gemini-2.0-flash",
			OllamaEndpoint:        "http://localhost:11434",
			OllamaEmbedModel:      "embeddinggemma",
			CalibrationMinSamples: 20,
		},
		AuthQueue: AuthQueueConfig{
			StaleAfter: 15 * time.Minute,
		},
		Pipeline: PipelineConfig{
			StepTimeout:          300 * time.Second,
			SERPURLTemplate:      "https://duckduckgo.com/html/?q=%s",
			AcademicAPIURL:       "https://api.crossref.org/works?query=%s&rows=5",
			RankTopK:             10,
			ClassifyTopM:         5,
			MinFragmentLength:    100,
			CitationIterationCap: 25,
			SERPMinInterval:      2 * time.Second,
			SERPMaxParallel:      1,
			SERPAcquireWait:      30 * time.Second,
			AcademicMinInterval:  1 * time.Second,
			AcademicMaxParallel:  2,
			AcademicAcquireWait:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file at path, falling back to defaults if the
// file does not exist, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("RESEARCH_GENAI_API_KEY"); key != "" {
		c.Inference.GenAIAPIKey = key
		c.Inference.Provider = "genai"
	}
	if endpoint := os.Getenv("RESEARCH_OLLAMA_ENDPOINT"); endpoint != "" {
		c.Inference.OllamaEndpoint = endpoint
	}
	if path := os.Getenv("RESEARCH_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("RESEARCH_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if proxy := os.Getenv("RESEARCH_TOR_PROXY"); proxy != "" {
		c.Fetch.TorProxyAddr = proxy
	}
}
