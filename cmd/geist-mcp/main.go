package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/mcpserver"
	"github.com/notedrift/geist/internal/store"
)

func main() {
	configPath := flag.String("config", "geist.yaml", "config file path")
	flag.Parse()

	// Stdio transport: stdout belongs to the protocol, logs go to stderr.
	log.SetOutput(os.Stderr)

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	defer db.Close()

	srv := mcpserver.New(db, cfg)
	if err := srv.ServeStdio(); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}
