package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig  `yaml:"database"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Generation LLMConfig       `yaml:"generation"`
	Crawler    CrawlerConfig   `yaml:"crawler"`
	Pipeline   PipelineConfig  `yaml:"pipeline"`
	Server     ServerConfig    `yaml:"server"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// ProviderConfig describes one embeddings provider. The API key can be given
// inline or resolved from the environment via api_key_env.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type EmbeddingConfig struct {
	Model           string           `yaml:"model"`
	Dimensions      int              `yaml:"dimensions"`
	DefaultProvider string           `yaml:"default_provider"`
	Providers       []ProviderConfig `yaml:"providers"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	KeyEnv  string `yaml:"key_env"`
	Model   string `yaml:"model"`
}

type CrawlerConfig struct {
	UserAgent          string              `yaml:"user_agent"`
	SeedURLs           []string            `yaml:"seed_urls"`
	AllowedPaths       map[string][]string `yaml:"allowed_paths"`
	BlockedPaths       []string            `yaml:"blocked_paths"`
	MaxPages           int                 `yaml:"max_pages"`
	MaxDepth           int                 `yaml:"max_depth"`
	BatchSize          int                 `yaml:"batch_size"`
	DiscoveryBatchSize int                 `yaml:"discovery_batch_size"`
	DelayMS            int                 `yaml:"delay_ms"`
	TimeoutSec         int                 `yaml:"timeout_sec"`
	RequestsPerSecond  float64             `yaml:"requests_per_second"`
	MinContentLength   int                 `yaml:"min_content_length"`
}

type PipelineConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	TopicThreshold         float64 `yaml:"topic_threshold"`
	TopicTagLimit          int     `yaml:"topic_tag_limit"`
	SimilarTicketThreshold float64 `yaml:"similar_ticket_threshold"`
	SimilarTicketLimit     int     `yaml:"similar_ticket_limit"`
	DocMatchThreshold      float64 `yaml:"doc_match_threshold"`
	DocMatchLimit          int     `yaml:"doc_match_limit"`

	EmbedVisibilitySec    int `yaml:"embed_visibility_sec"`
	EmbedBatchSize        int `yaml:"embed_batch_size"`
	ClassifyVisibilitySec int `yaml:"classify_visibility_sec"`
	ClassifyBatchSize     int `yaml:"classify_batch_size"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.resolveSecrets()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-ai/nomic-embed-text-v1"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 768
	}

	cr := &c.Crawler
	if cr.UserAgent == "" {
		cr.UserAgent = "TriageDocsBot/1.0 (Documentation Scraper)"
	}
	if len(cr.AllowedPaths) == 0 {
		cr.AllowedPaths = defaultAllowedPaths()
	}
	if len(cr.BlockedPaths) == 0 {
		cr.BlockedPaths = defaultBlockedPaths()
	}
	if cr.MaxPages == 0 {
		cr.MaxPages = 200
	}
	if cr.MaxDepth == 0 {
		cr.MaxDepth = 3
	}
	if cr.BatchSize == 0 {
		cr.BatchSize = 5
	}
	if cr.DiscoveryBatchSize == 0 {
		cr.DiscoveryBatchSize = 8
	}
	if cr.DelayMS == 0 {
		cr.DelayMS = 200
	}
	if cr.TimeoutSec == 0 {
		cr.TimeoutSec = 20
	}
	if cr.RequestsPerSecond == 0 {
		cr.RequestsPerSecond = 5
	}
	if cr.MinContentLength == 0 {
		cr.MinContentLength = 200
	}

	p := &c.Pipeline
	if p.ChunkSize == 0 {
		p.ChunkSize = 1000
	}
	if p.ChunkOverlap == 0 {
		p.ChunkOverlap = 200
	}
	if p.TopicThreshold == 0 {
		p.TopicThreshold = 0.55
	}
	if p.TopicTagLimit == 0 {
		p.TopicTagLimit = 3
	}
	if p.SimilarTicketThreshold == 0 {
		p.SimilarTicketThreshold = 0.7
	}
	if p.SimilarTicketLimit == 0 {
		p.SimilarTicketLimit = 5
	}
	if p.DocMatchThreshold == 0 {
		p.DocMatchThreshold = 0.4
	}
	if p.DocMatchLimit == 0 {
		p.DocMatchLimit = 5
	}
	if p.EmbedVisibilitySec == 0 {
		p.EmbedVisibilitySec = 30
	}
	if p.EmbedBatchSize == 0 {
		p.EmbedBatchSize = 10
	}
	if p.ClassifyVisibilitySec == 0 {
		p.ClassifyVisibilitySec = 60
	}
	if p.ClassifyBatchSize == 0 {
		p.ClassifyBatchSize = 3
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
}

// resolveSecrets fills API keys from the environment when only the env
// variable name was configured.
func (c *Config) resolveSecrets() {
	for i := range c.Embedding.Providers {
		p := &c.Embedding.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
	if c.Generation.Key == "" && c.Generation.KeyEnv != "" {
		c.Generation.Key = os.Getenv(c.Generation.KeyEnv)
	}
	if c.Server.Token == "" && c.Server.TokenEnv != "" {
		c.Server.Token = os.Getenv(c.Server.TokenEnv)
	}
}

func (c *Config) validate() error {
	if len(c.Embedding.Providers) == 0 {
		return fmt.Errorf("config: at least one embedding provider is required")
	}
	return nil
}

func defaultAllowedPaths() map[string][]string {
	return map[string][]string{
		"docs.atlan.com": {
			"/guide/", "/concepts/", "/setup/", "/integrations/",
			"/getting-started/", "/overview/", "/tutorial/", "/how-to/",
			"/best-practices/", "/glossary/", "/lineage/", "/connector/",
			"/sso/", "/authentication/", "/api/", "/sdk/", "/apps/",
		},
		"developer.atlan.com": {
			"/api/", "/sdk/", "/reference/", "/authentication/",
			"/getting-started/", "/guide/", "/tutorial/", "/examples/",
			"/webhook/", "/automation/",
		},
	}
}

func defaultBlockedPaths() []string {
	return []string{
		"/changelog/", "/release-notes/", "/blog/", "/community/",
		"/download/", "/legal/", "/privacy/", "/terms/", "/support/",
		"/contact/", "/about/", "/careers/", "/pricing/",
		".pdf", ".zip", ".jpg", ".png", ".gif", "/images/", "/assets/", ".xml",
	}
}
