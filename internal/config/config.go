// Package config loads and holds all anonymiser configuration.
// Settings are read from defaults, then anonymiser-config.json, then a .env
// file (if present), then environment variables. Later sources win.
//
// The crypto key is the one setting that is never read from the JSON file:
// it comes from the environment (or .env) only, so a checked-in config file
// cannot leak it.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the full anonymiser configuration.
type Config struct {
	Port        int    `json:"port"`
	BindAddress string `json:"bindAddress"`
	LogLevel    string `json:"logLevel"`
	APIToken    string `json:"apiToken"`

	NEREngine         string   `json:"nerEngine"` // "spacy" or "transformers"
	NERServiceURL     string   `json:"nerServiceUrl"`
	SpacyModel        string   `json:"spacyModel"`
	TransformersModel string   `json:"transformersModel"`
	DefaultLanguage   string   `json:"defaultLanguage"`
	SupportedLangs    []string `json:"supportedLanguages"`

	PDFServiceURL string `json:"pdfServiceUrl"`
	SpanCachePath string `json:"spanCachePath"`

	WatchDir string `json:"watchDir"`
	OutDir   string `json:"outDir"`

	// CryptoKey is env-only (ANONYMISER_CRYPTO_KEY); see package doc.
	CryptoKey string `json:"-"`
}

// Load returns config with defaults overridden by anonymiser-config.json,
// .env and env vars, in that order.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "anonymiser-config.json")
	// Best effort: a missing .env file is the normal case.
	_ = godotenv.Load()
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:              8080,
		BindAddress:       "127.0.0.1",
		LogLevel:          "info",
		NEREngine:         "spacy",
		NERServiceURL:     "http://localhost:8000",
		SpacyModel:        "nl_core_news_md",
		TransformersModel: "pdelobelle/robbert-v2-dutch-ner",
		DefaultLanguage:   "nl",
		SupportedLangs:    []string{"nl"},
		PDFServiceURL:     "http://localhost:8001",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("ANONYMISER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("NER_ENGINE"); v != "" {
		cfg.NEREngine = v
	}
	if v := os.Getenv("NER_SERVICE_URL"); v != "" {
		cfg.NERServiceURL = v
	}
	if v := os.Getenv("SPACY_MODEL"); v != "" {
		cfg.SpacyModel = v
	}
	if v := os.Getenv("TRANSFORMERS_MODEL"); v != "" {
		cfg.TransformersModel = v
	}
	if v := os.Getenv("DEFAULT_LANGUAGE"); v != "" {
		cfg.DefaultLanguage = v
	}
	if v := os.Getenv("SUPPORTED_LANGUAGES"); v != "" {
		cfg.SupportedLangs = splitList(v)
	}
	if v := os.Getenv("PDF_SERVICE_URL"); v != "" {
		cfg.PDFServiceURL = v
	}
	if v := os.Getenv("SPAN_CACHE_PATH"); v != "" {
		cfg.SpanCachePath = v
	}
	if v := os.Getenv("WATCH_DIR"); v != "" {
		cfg.WatchDir = v
	}
	if v := os.Getenv("OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := os.Getenv("ANONYMISER_CRYPTO_KEY"); v != "" {
		cfg.CryptoKey = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Model returns the NER model matching the configured engine.
func (c *Config) Model() string {
	if c.NEREngine == "transformers" {
		return c.TransformersModel
	}
	return c.SpacyModel
}
