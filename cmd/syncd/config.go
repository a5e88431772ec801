package main

import (
	"flag"
	"strings"

	"campledger/internal/config"
)

// flagOverrides holds command-line values that override the environment.
type flagOverrides struct {
	dataPath  string
	endpoints string
	business  string
	creator   string
	logLevel  string
	serveAddr string
	once      bool
}

// parseFlags parses command-line flags and applies them over cfg.
func parseFlags(cfg *config.Config) *flagOverrides {
	o := &flagOverrides{}

	flag.StringVar(&o.dataPath, "data", "", "Data directory (overrides CAMPLEDGER_DATA)")
	flag.StringVar(&o.endpoints, "endpoints", "", "Comma-separated relay addresses (overrides CAMPLEDGER_ENDPOINTS)")
	flag.StringVar(&o.business, "business", "", "Scope sync to one business identity (hex pubkey)")
	flag.StringVar(&o.creator, "creator", "", "Scope sync to one creator identity (hex pubkey)")
	flag.StringVar(&o.logLevel, "log", "", "Log level (overrides CAMPLEDGER_LOG_LEVEL)")
	flag.StringVar(&o.serveAddr, "serve", "", "Also serve the local ledger to other clients on this address")
	flag.BoolVar(&o.once, "once", false, "Run a single sync round and exit")
	flag.Parse()

	if o.dataPath != "" {
		cfg.DataPath = o.dataPath
	}

	if o.endpoints != "" {
		cfg.Endpoints = strings.Split(o.endpoints, ",")
	}

	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	return o
}
