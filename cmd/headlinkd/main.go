package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/headlink/config"
	"github.com/sirupsen/logrus"
)

// CLIConfig holds command-line flags. Zero values leave the loaded
// configuration untouched.
type CLIConfig struct {
	configPath string
	port       int
	logLevel   string
	logFormat  string
	archiveDir string
	help       bool
}

func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cli := &CLIConfig{}

	fs.StringVar(&cli.configPath, "config", "", "Path to a TOML configuration file")
	fs.IntVar(&cli.port, "port", 0, "TCP port for the connection provider (overrides config)")
	fs.StringVar(&cli.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&cli.logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&cli.archiveDir, "archive-dir", "", "Directory for the encrypted secret archive")
	fs.BoolVar(&cli.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cli, nil
}

// applyFlags layers explicit flags over cfg.
func applyFlags(cfg config.Config, cli *CLIConfig) (config.Config, error) {
	if cli.port != 0 {
		if cli.port < 1 || cli.port > 65535 {
			return cfg, fmt.Errorf("invalid port %d: must be between 1 and 65535", cli.port)
		}
		cfg.Port = cli.port
	}
	if cli.logLevel != "" {
		if _, err := logrus.ParseLevel(cli.logLevel); err != nil {
			return cfg, fmt.Errorf("invalid log level: %w", err)
		}
		cfg.LogLevel = cli.logLevel
	}
	if cli.logFormat != "" {
		if cli.logFormat != "text" && cli.logFormat != "json" {
			return cfg, fmt.Errorf("invalid log format %q: must be text or json", cli.logFormat)
		}
		cfg.LogFormat = cli.logFormat
	}
	if cli.archiveDir != "" {
		cfg.ArchiveDir = cli.archiveDir
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cli, err := parseCLIFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if cli.help {
		fmt.Println("headlink backend daemon")
		fmt.Println()
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fs.PrintDefaults()
		os.Exit(0)
	}

	cfg, err := applyFlags(config.Load(cli.configPath), cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("headlinkd exited with error")
		os.Exit(1)
	}
}

// run starts the application and blocks until SIGINT or SIGTERM.
func run(cfg config.Config) error {
	app := newApp(cfg)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logrus.WithFields(logrus.Fields{
		"function": "run",
		"signal":   sig.String(),
	}).Info("Received signal, shutting down")

	// Shutdown of the server is bounded by its own timeout; leave headroom
	// for the hooks that run after it.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*cfg.Server.ShutdownTimeout.Duration)
	defer stopCancel()
	return app.Stop(stopCtx)
}
