package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/common"
	"github.com/ternarybob/gero/internal/jobs"
	"github.com/ternarybob/gero/internal/services/maintenance"
	badgerstore "github.com/ternarybob/gero/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Gero version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("gero.toml"); err == nil {
			configFiles = append(configFiles, "gero.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)

	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("storage_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Configuration loaded")

	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
		os.Exit(1)
	}
	defer db.Close()

	store := badgerstore.NewKVStore(db, logger)
	registry := jobs.NewRegistry(store, logger)
	pool := jobs.NewPool(config.Jobs.Concurrency, logger)
	controller := jobs.NewController(store, registry, pool, logger, config.Jobs.NodeSalt)

	sweeper := maintenance.NewService(store, controller, logger)
	if config.Maintenance.Enabled {
		if err := sweeper.Start(config.Maintenance.Schedule); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start maintenance service")
			os.Exit(1)
		}
	}

	// Startup snapshot of the registry for operators
	if all, err := registry.All(context.Background()); err == nil {
		logger.Info().Int("jobs", len(all)).Msg("Node ready - Press Ctrl+C to stop")
	} else {
		logger.Warn().Err(err).Msg("Node ready, registry read failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received")

	sweeper.Stop()

	logger.Info().Msg("Node stopped")
}
