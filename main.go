package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/fetcharr/fetcharr/internal"
	"github.com/fetcharr/fetcharr/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. Configuration is loaded from the
// YAML file when one is provided, otherwise from the environment, and the
// server runs until an interrupt or termination signal arrives.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional, env vars used otherwise)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	} else {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}

	config := internal.FetcharrConfig{}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "%v\n", err)
			os.Exit(1)
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "fetcharr exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "fetcharr shutdown complete\n")
}
