// Command answergrid answers a single query from the command line. It is
// the development entrypoint for the answering engine; production
// embedders construct the app package directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/answergrid/answergrid/engine/app"
	"github.com/answergrid/answergrid/engine/orchestrator"
	"github.com/answergrid/answergrid/pkg/config"
	"github.com/answergrid/answergrid/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	query := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if query == "" {
		return fmt.Errorf("usage: answergrid <query>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewLogger(&logger.Config{
		Level: logger.LogLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, log)

	engine, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Shutdown(context.Background()); err != nil {
			log.Warn("shutdown finished with errors", "error", err)
		}
	}()

	resp := engine.Orchestrator.Handle(ctx, &orchestrator.Request{Query: query})
	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
