package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visitasegura/go-backend/internal/composition/visitaserver"
	"visitasegura/go-backend/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address override")
	debug := flag.Bool("debug", false, "enable debug logging")
	doctor := flag.Bool("doctor", false, "check configuration and host readiness, print a JSON report and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("visitasegura version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil && !(*doctor && errors.Is(err, config.ErrInsecureSigningSecret)) {
		log.Fatalf("visitasegura config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *doctor {
		report := visitaserver.Doctor(context.Background(), cfg, time.Now().UTC())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		if !report.Ready {
			os.Exit(1)
		}
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := visitaserver.NewRuntime(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("visitasegura failed to initialize: %v", err)
	}

	log.Println("visitasegura starting")
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("visitasegura failed: %v", err)
	}
	log.Println("visitasegura stopped")
}
