// Command syncd keeps a local campaign-payment ledger reconciled against
// a set of untrusted network endpoints.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"campledger/client"
	"campledger/internal/config"
	"campledger/internal/logger"
	"campledger/internal/network"
	"campledger/internal/query"
	"campledger/internal/record"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	overrides := parseFlags(&cfg)
	logger.Init(cfg.LogLevel)

	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured (set CAMPLEDGER_ENDPOINTS or -endpoints)")
	}

	filters := buildFilters(overrides)

	c, err := client.New(cfg, filters)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	logger.Info("syncd started",
		"data", cfg.DataPath,
		"endpoints", len(cfg.Endpoints),
		"interval", cfg.SyncInterval,
		"filters", len(filters),
	)

	if overrides.once {
		n, err := c.SyncOnce(context.Background())
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		logger.Info("sync round complete", "applied", n)
		return nil
	}

	if overrides.serveAddr != "" {
		server, err := serveLedger(overrides.serveAddr, c)
		if err != nil {
			return fmt.Errorf("serve ledger: %w", err)
		}
		defer server.Close()

		logger.Info("serving ledger", "addr", server.Addr())
	}

	c.StartSync()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")

	return nil
}

// serveLedger answers the endpoint protocol from the local ledger, so a
// synced daemon can act as a relay for other clients. The serving
// identity is ephemeral; clients trust records, not transports.
func serveLedger(addr string, c *client.Client) (*network.Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate serving key: %w", err)
	}

	return network.Serve(addr, priv, func(f query.Filter) []record.RawRecord {
		var out []record.RawRecord

		for _, rec := range c.Ledger().Export() {
			if !f.Matches(rec) {
				continue
			}

			out = append(out, rec)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}

		return out
	})
}

// buildFilters returns the sync filters, scoped to one business or
// creator identity when requested, otherwise everything for all five
// record kinds.
func buildFilters(o *flagOverrides) []query.Filter {
	allKinds := []record.Kind{
		record.KindCampaign,
		record.KindApplication,
		record.KindReport,
		record.KindVerification,
		record.KindPaymentClaim,
	}

	switch {
	case o.business != "":
		// Everything the business published, plus records addressed to it.
		return []query.Filter{
			{Kinds: allKinds, Authors: []string{o.business}},
			{Kinds: []record.Kind{record.KindApplication, record.KindReport}},
		}

	case o.creator != "":
		return []query.Filter{
			{Kinds: allKinds, Authors: []string{o.creator}},
			{Kinds: []record.Kind{record.KindCampaign}},
		}

	default:
		return []query.Filter{{Kinds: allKinds}}
	}
}
