// Package main runs the lead intake service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/JakeFAU/lead-intake/internal/config"
	"github.com/JakeFAU/lead-intake/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env-file", ".env", "Path to an optional dotenv file")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "lead-intake: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), *cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "lead-intake: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build app failed: %w", err)
	}
	return app.Run(ctx)
}
