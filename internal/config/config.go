package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Scheduler SchedulerConfig
	Triage    TriageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	FastModel   string
	EmbedModel  string
	EmbedDim    int
	VisionModel string
}

type StorageConfig struct {
	DataDir  string
	FilesDir string
}

type RetrievalConfig struct {
	TopK     int
	MinScore float64
}

type SchedulerConfig struct {
	MaxBacklog  int
	DailyCap    int
	HorizonDays int
}

type TriageConfig struct {
	MaxMessages int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 7600,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			ChatModel:   "llama-3.3-70b-versatile",
			FastModel:   "llama-3.1-8b-instant",
			EmbedModel:  "text-embedding-3-small",
			EmbedDim:    1536,
			VisionModel: "llama-3.2-90b-vision-preview",
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			FilesDir: filepath.Join(dataDir, "files"),
		},
		Retrieval: RetrievalConfig{
			TopK:     4,
			MinScore: 0.45,
		},
		Scheduler: SchedulerConfig{
			MaxBacklog:  20,
			DailyCap:    3,
			HorizonDays: 7,
		},
		Triage: TriageConfig{
			MaxMessages: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "uswa")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "uswa")
}

// Load reads configuration from defaults overridden by USWA_* environment
// variables. The LLM API key and the server bearer token are required.
func Load() (Config, error) {
	return loadWith(os.Getenv)
}

func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()
	applyEnv(&cfg, getenv)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. Set USWA_LLM_API_KEY")
	}
	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token. Set USWA_API_TOKEN")
	}
	if cfg.LLM.EmbedDim <= 0 {
		return Config{}, fmt.Errorf("invalid embedding dimensionality %d", cfg.LLM.EmbedDim)
	}
	return cfg, nil
}
