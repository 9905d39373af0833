// Command anonymiser is the reversible document anonymization service.
//
// It detects Dutch PII (person names, locations, organizations, addresses,
// phone numbers, email addresses, IBANs) with a combination of deterministic
// pattern recognizers and an external NER engine, replaces each entity with a
// placeholder token, and embeds the encrypted substitution map in the
// document itself so the operation can be undone with the right key.
//
// Usage:
//
//	# HTTP API on the default port
//	ANONYMISER_CRYPTO_KEY=... ./anonymiser
//
//	# Custom port and transformers NER engine
//	ANONYMISER_PORT=9000 NER_ENGINE=transformers ./anonymiser
//
//	# Additionally anonymize files dropped into an inbox directory
//	WATCH_DIR=/data/inbox OUT_DIR=/data/outbox ./anonymiser
package main

import (
	"context"
	"fmt"
	"log"

	"openanonymiser/internal/analyzer"
	"openanonymiser/internal/anonymizer"
	"openanonymiser/internal/api"
	"openanonymiser/internal/config"
	"openanonymiser/internal/logger"
	"openanonymiser/internal/metrics"
	"openanonymiser/internal/ner"
	"openanonymiser/internal/recognizer"
	"openanonymiser/internal/watcher"
)

func main() {
	cfg := config.Load()

	printBanner(cfg)

	mainLog := logger.New("MAIN", cfg.LogLevel)

	engine := ner.NewClient(cfg.NERServiceURL, ner.Kind(cfg.NEREngine), cfg.Model())

	cache, err := analyzer.NewSpanCache(cfg.SpanCachePath, logger.New("CACHE", cfg.LogLevel))
	if err != nil {
		mainLog.Fatalf("init", "span cache: %v", err)
	}
	defer cache.Close() //nolint:errcheck

	detectLog := logger.New("ANALYZER", cfg.LogLevel)
	a, err := analyzer.New(engine, recognizer.Defaults(detectLog), cfg.SupportedLangs, cache, detectLog)
	if err != nil {
		mainLog.Fatalf("init", "analyzer: %v", err)
	}

	m := metrics.New()
	a.WithMetrics(m)
	pipeline, err := anonymizer.New(a, m, logger.New("PIPELINE", cfg.LogLevel))
	if err != nil {
		mainLog.Fatalf("init", "pipeline: %v", err)
	}

	// The inbox watcher is optional; it runs alongside the API when both
	// directories are configured.
	if cfg.WatchDir != "" && cfg.OutDir != "" {
		if cfg.CryptoKey == "" {
			mainLog.Fatal("init", "watch mode needs ANONYMISER_CRYPTO_KEY")
		}
		w, err := watcher.New(pipeline, cfg.WatchDir, cfg.OutDir, cfg.DefaultLanguage,
			[]byte(cfg.CryptoKey), logger.New("WATCHER", cfg.LogLevel))
		if err != nil {
			mainLog.Fatalf("init", "watcher: %v", err)
		}
		w.WithPDFService(cfg.PDFServiceURL)
		go func() {
			if err := w.Run(context.Background()); err != nil && err != context.Canceled {
				log.Fatalf("[WATCHER] Fatal: %v", err)
			}
		}()
	}

	srv := api.New(cfg, pipeline, engine.Name(), m, logger.New("API", cfg.LogLevel))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("[API] Fatal: %v", err)
	}
}

func printBanner(cfg *config.Config) {
	watch := "(disabled — set WATCH_DIR and OUT_DIR)"
	if cfg.WatchDir != "" && cfg.OutDir != "" {
		watch = cfg.WatchDir + " -> " + cfg.OutDir
	}
	key := "from request only (set ANONYMISER_CRYPTO_KEY for a default)"
	if cfg.CryptoKey != "" {
		key = "configured"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          OpenAnonymiser  (Go)                        ║
╚══════════════════════════════════════════════════════╝
  API port        : %d
  NER engine      : %s (%s)
  NER service     : %s
  Languages       : %v
  Crypto key      : %s
  Inbox watch     : %s

  Check status:
    curl http://localhost:%d/status
`, cfg.Port,
		cfg.NEREngine, cfg.Model(),
		cfg.NERServiceURL,
		cfg.SupportedLangs,
		key,
		watch,
		cfg.Port)
}
