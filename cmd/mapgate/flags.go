package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("MAPGATE_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: MAPGATE_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("MAPGATE_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: MAPGATE_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("MAPGATE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file (env: MAPGATE_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("MAPGATE_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file (env: MAPGATE_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()
	return cfg
}

func printHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - multi-tenant IoT message-mapping gateway

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a custom config
  %s --config=/etc/mapgate/config.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --config=/etc/mapgate/config.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
