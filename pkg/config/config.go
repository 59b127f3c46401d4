package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Memory    MemoryConfig    `json:"memory"`
	Embedding EmbeddingConfig `json:"embedding"`
	Stuck     StuckConfig     `json:"stuck"`
	mu        sync.RWMutex
}

type MemoryConfig struct {
	DBPath            string   `json:"db_path" env:"FACTMEM_DB_PATH"`
	AutoRecall        bool     `json:"auto_recall" env:"FACTMEM_AUTO_RECALL"`
	AutoCapture       bool     `json:"auto_capture" env:"FACTMEM_AUTO_CAPTURE"`
	MaxRecallResults  int      `json:"max_recall_results" env:"FACTMEM_MAX_RECALL_RESULTS"`
	MaxCapturePerTurn int      `json:"max_capture_per_turn" env:"FACTMEM_MAX_CAPTURE_PER_TURN"`
	Consolidation     bool     `json:"consolidation" env:"FACTMEM_CONSOLIDATION"`
	MaintenanceCron   string   `json:"maintenance_cron" env:"FACTMEM_MAINTENANCE_CRON"`
	Entities          []string `json:"entities" env:"FACTMEM_ENTITIES"`
}

type EmbeddingConfig struct {
	Enabled             bool    `json:"enabled" env:"FACTMEM_EMBEDDING_ENABLED"`
	OllamaURL           string  `json:"ollama_url" env:"FACTMEM_EMBEDDING_OLLAMA_URL"`
	Model               string  `json:"model" env:"FACTMEM_EMBEDDING_MODEL"`
	SimilarityThreshold float64 `json:"similarity_threshold" env:"FACTMEM_EMBEDDING_SIMILARITY_THRESHOLD"`
}

type StuckConfig struct {
	Enabled          bool   `json:"enabled" env:"FACTMEM_STUCK_ENABLED"`
	TopicHistoryPath string `json:"topic_history_path" env:"FACTMEM_STUCK_TOPIC_HISTORY_PATH"`
	UserName         string `json:"user_name" env:"FACTMEM_STUCK_USER_NAME"`
}

func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			DBPath:            "~/.factmem/memory/facts.db",
			AutoRecall:        true,
			AutoCapture:       true,
			MaxRecallResults:  10,
			MaxCapturePerTurn: 5,
			Consolidation:     true,
			MaintenanceCron:   "",
			Entities:          []string{},
		},
		Embedding: EmbeddingConfig{
			Enabled:             true,
			OllamaURL:           "http://localhost:11434",
			Model:               "nomic-embed-text",
			SimilarityThreshold: 0.5,
		},
		Stuck: StuckConfig{
			Enabled:          true,
			TopicHistoryPath: "",
			UserName:         "the user",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DBPath returns the database path with ~ expanded.
func (c *Config) DBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Memory.DBPath)
}

// TopicHistoryPath returns the configured topic-history file, defaulting to
// topic-history.json next to the database.
func (c *Config) TopicHistoryPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Stuck.TopicHistoryPath != "" {
		return expandHome(c.Stuck.TopicHistoryPath)
	}
	return filepath.Join(filepath.Dir(expandHome(c.Memory.DBPath)), "topic-history.json")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
