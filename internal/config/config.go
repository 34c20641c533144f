package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig  BasicConfig               `json:"basic_config"`
	Databases    map[string]DatabaseConfig `json:"databases"`
	Redis        RedisConfig               `json:"redis"`
	Providers    map[string]ProviderConfig `json:"providers"`
	Chat         ChatConfig                `json:"chat"`
	Retrieval    RetrievalConfig           `json:"retrieval"`
	Image        ImageConfig               `json:"image"`
	SessionStore SessionStoreConfig        `json:"session_store"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// ChatConfig tunes the conversation pipeline.
type ChatConfig struct {
	Provider        string  `json:"provider"`
	SystemPrompt    string  `json:"system_prompt"`
	MaxTokens       int     `json:"max_tokens"`
	SafetyMargin    int     `json:"safety_margin"`
	SummaryWindow   int     `json:"summary_window"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	EnableTools     bool    `json:"enable_tools"`
	EnableRewrite   bool    `json:"enable_rewrite"`
}

// RetrievalConfig selects and configures the retrieval gateway.
// Backend is one of "index", "web" or "local".
type RetrievalConfig struct {
	Backend              string          `json:"backend"`
	Endpoint             string          `json:"endpoint"`
	Index                string          `json:"index"`
	APIKey               string          `json:"api_key"`
	TopK                 int             `json:"top_k"`
	RankingConfiguration string          `json:"ranking_configuration"`
	Embedding            EmbeddingConfig `json:"embedding"`
	LocalDir             string          `json:"local_dir"`
	Google               GoogleConfig    `json:"google"`
}

type EmbeddingConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type GoogleConfig struct {
	APIKey         string `json:"api_key"`
	SearchEngineID string `json:"search_engine_id"`
}

// ImageConfig points at the image generation deployment.
type ImageConfig struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	Deployment string `json:"deployment"`
	APIVersion string `json:"api_version"`
}

// SessionStoreConfig selects the session persistence backend:
// "sql" (default), "redis" or "memory".
type SessionStoreConfig struct {
	Backend string `json:"backend"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Chat.Provider == "" {
		return nil, fmt.Errorf("chat.provider must be configured")
	}
	if _, ok := cfg.Providers[cfg.Chat.Provider]; !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.Chat.Provider)
	}
	if cfg.Retrieval.Backend == "index" && (cfg.Retrieval.Endpoint == "" || cfg.Retrieval.Index == "") {
		return nil, fmt.Errorf("retrieval endpoint and index must be configured for the index backend")
	}
	if cfg.Retrieval.Backend == "local" && cfg.Retrieval.LocalDir == "" {
		return nil, fmt.Errorf("retrieval.local_dir must be configured for the local backend")
	}
	if cfg.Chat.EnableTools && (cfg.Image.Endpoint == "" || cfg.Image.Deployment == "") {
		return nil, fmt.Errorf("image endpoint and deployment must be configured when tools are enabled")
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Chat.SystemPrompt == "" {
		cfg.Chat.SystemPrompt = "You are a helpful assistant."
	}
	if cfg.Chat.MaxTokens <= 0 {
		cfg.Chat.MaxTokens = 8192
	}
	if cfg.Chat.SafetyMargin <= 0 {
		cfg.Chat.SafetyMargin = 500
	}
	if cfg.Chat.SummaryWindow <= 0 {
		cfg.Chat.SummaryWindow = 5
	}
	if cfg.Chat.MaxOutputTokens <= 0 {
		cfg.Chat.MaxOutputTokens = 4096
	}
	if cfg.Chat.Temperature <= 0 {
		cfg.Chat.Temperature = 0.3
	}
	if cfg.Chat.TopP <= 0 {
		cfg.Chat.TopP = 1.0
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Backend == "" {
		cfg.Retrieval.Backend = "index"
	}
	if cfg.Image.APIVersion == "" {
		cfg.Image.APIVersion = "2024-05-01-preview"
	}
	if cfg.SessionStore.Backend == "" {
		cfg.SessionStore.Backend = "sql"
	}
}
