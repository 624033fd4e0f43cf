package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/detector"
	"github.com/notedrift/geist/internal/embedding"
	"github.com/notedrift/geist/internal/metrics"
	"github.com/notedrift/geist/internal/profiling"
	"github.com/notedrift/geist/internal/semcache"
	"github.com/notedrift/geist/internal/session"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/vault"
)

func main() {
	configPath := flag.String("config", "geist.yaml", "config file path")
	date := flag.String("date", time.Now().Format(store.DateLayout),
		"session date (YYYY-MM-DD); past dates replay deterministically")
	overwrite := flag.Bool("overwrite", false, "replace an existing session for the date")
	profile := flag.String("profile", "off", "profiling level: off, stages, detailed")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if v := os.Getenv("GEIST_VAULT"); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	verb := flag.Arg(0)
	if verb == "" {
		verb = "analyze"
	}

	switch verb {
	case "analyze":
		runAnalyze(cfg, *date, *overwrite, profiling.Level(*profile))
	case "sessions":
		runSessions(cfg)
	case "stats":
		runStats(cfg, *date)
	case "suggest":
		runSuggest(cfg, *date)
	default:
		fmt.Fprintf(os.Stderr, "usage: geist [flags] analyze|sessions|stats|suggest\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
}

func openStore(cfg config.Config) *store.DB {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	return db
}

func runAnalyze(cfg config.Config, date string, overwrite bool, level profiling.Level) {
	db := openStore(cfg)
	defer db.Close()

	provider := embedding.NewOllama(cfg.Embedding.BaseURL, cfg.Embedding.Model,
		cfg.Embedding.Timeout, cfg.Embedding.Retries)
	cache, err := semcache.Open(cfg.Store.CachePath, provider, cfg.Store.MemoryCacheSize)
	if err != nil {
		log.Fatalf("open semantic cache: %v", err)
	}
	defer cache.Close()

	prof, err := profiling.New(level, filepath.Join(filepath.Dir(cfg.Store.Path), "profile.jsonl"))
	if err != nil {
		log.Fatalf("profiling: %v", err)
	}
	defer prof.Close()

	src := vault.New(cfg.Vault.Path, cfg.Vault.ContainerFile)
	runner := session.NewRunner(cfg, src, cache, db, prof)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx, date, overwrite)
	if err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			log.Fatalf("session %s already exists; re-run with -overwrite to replay", date)
		}
		log.Fatalf("analyze %s: %v", date, err)
	}

	printRunSummary(res)
}

// printRunSummary is the end-of-run report: per-note failures and degenerate
// clustering are summarized, never fatal.
func printRunSummary(res *session.Result) {
	fmt.Printf("session %s: %d/%d notes embedded, %d clusters, %d noise\n",
		res.Date, res.Embedded, res.NoteCount, res.Clusters, res.Noise)
	fmt.Printf("cache: %d hits, %d misses, %d provider calls\n",
		res.CacheStats.Hits, res.CacheStats.Misses, res.CacheStats.ProviderCalls)
	if res.Degenerate {
		fmt.Println("clustering degenerate: corpus below minimum viable size, all notes noise")
	}
	if len(res.Failures) > 0 {
		fmt.Printf("%d notes failed and are absent from this session:\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Printf("  %s: %v\n", f.NoteID, f.Err)
		}
	}
}

func runSessions(cfg config.Config) {
	db := openStore(cfg)
	defer db.Close()

	dates, err := db.SessionsBetween("", "")
	if err != nil {
		log.Fatalf("list sessions: %v", err)
	}
	for _, d := range dates {
		fmt.Println(d)
	}
}

func runStats(cfg config.Config, date string) {
	db := openStore(cfg)
	defer db.Close()

	m, err := metrics.ForSession(db, date)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			log.Fatalf("no session recorded for %s", date)
		}
		log.Fatalf("stats %s: %v", date, err)
	}
	fmt.Println(m.Summary())

	stats, err := db.Stats()
	if err == nil {
		fmt.Printf("store: %d notes, %d sessions, %d embeddings, %d links\n",
			stats["notes"], stats["sessions"], stats["session_embeddings"], stats["links"])
	}
}

func runSuggest(cfg config.Config, date string) {
	db := openStore(cfg)
	defer db.Close()

	h, err := session.NewHandle(db, cfg, date)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			log.Fatalf("no session recorded for %s; run analyze first", date)
		}
		log.Fatalf("suggest %s: %v", date, err)
	}

	engine := detector.NewEngine(detector.Policy{
		Timeout:     cfg.Analysis.DetectorTimeout,
		MaxFailures: cfg.Analysis.DetectorMaxFailures,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	suggestions := engine.Run(ctx, h)
	if len(suggestions) == 0 {
		fmt.Println("no suggestions for", date)
		return
	}
	for _, s := range suggestions {
		fmt.Printf("[%s] %s\n", s.Detector, s.Text)
	}
	if disabled := engine.Disabled(); len(disabled) > 0 {
		fmt.Printf("disabled detectors: %v\n", disabled)
	}
}
