package main

import (
	"flag"
	"fmt"
	"os"
	"trading_agent/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, env vars always apply)")
	flag.Parse()

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
