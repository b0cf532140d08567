package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/tamperguard/guard"
	"github.com/hazyhaar/tamperguard/guard/report"
	"github.com/hazyhaar/tamperguard/horosafe"
	"github.com/hazyhaar/tamperguard/logging"
	"github.com/hazyhaar/tamperguard/rodhost"
)

var watchFlags struct {
	url        string
	configPath string
	collector  string
	remote     string
	stealth    string
	mcp        bool
	noEvents   bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a page in Chrome and guard it",
	Long: `Open --url in a stealth Chrome tab, capture its baseline and guard it
until interrupted or locked down.

Secrets:
  TAMPERGUARD_INTEGRITY_SECRET and TAMPERGUARD_NETWORK_SECRET (32+ bytes)
  key the content hashes. When unset, random secrets are generated for
  this run only.

Events are written as JSON lines to stdout (stderr with --mcp) and, with
--collector, posted to the collector. With --mcp the engine tools are
served over stdio.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchFlags.url, "url", getEnv("TAMPERGUARD_URL", ""), "page to guard")
	watchCmd.Flags().StringVar(&watchFlags.configPath, "config", getEnv("TAMPERGUARD_CONFIG", ""), "YAML configuration file")
	watchCmd.Flags().StringVar(&watchFlags.collector, "collector", "", "collector base URL (overrides collector_url)")
	watchCmd.Flags().StringVar(&watchFlags.remote, "remote", "", "DevTools websocket of an existing Chrome (overrides browser.remote)")
	watchCmd.Flags().StringVar(&watchFlags.stealth, "stealth", "", "headless or headful (overrides browser.stealth)")
	watchCmd.Flags().BoolVar(&watchFlags.mcp, "mcp", false, "serve the engine tools over MCP stdio")
	watchCmd.Flags().BoolVar(&watchFlags.noEvents, "quiet-events", false, "do not print events")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchFlags.url == "" {
		return fmt.Errorf("--url is required")
	}
	if err := horosafe.ValidateEndpoint(watchFlags.url); err != nil {
		return fmt.Errorf("--url: %w", err)
	}

	cfg, err := guard.LoadConfig(watchFlags.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if watchFlags.collector != "" {
		cfg.CollectorURL = watchFlags.collector
	}
	if watchFlags.remote != "" {
		cfg.Browser.Remote = watchFlags.remote
	}
	if watchFlags.stealth != "" {
		cfg.Browser.Stealth = watchFlags.stealth
	}
	if err := ephemeralSecrets(cfg); err != nil {
		return err
	}

	log, lvl, err := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		MaxErrors: cfg.Log.MaxErrors,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browser, err := rodhost.Launch(ctx, rodhost.Config{
		Remote:  cfg.Browser.Remote,
		Stealth: cfg.Browser.Stealth,
		Bin:     cfg.Browser.Bin,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	defer browser.Close()

	host, err := rodhost.Open(ctx, browser, watchFlags.url, rodhost.Options{Stealth: true, Logger: log})
	if err != nil {
		return err
	}
	defer host.Close()

	var sinks []report.Sink
	if !watchFlags.noEvents {
		var out io.Writer = os.Stdout
		if watchFlags.mcp {
			out = os.Stderr
		}
		sinks = append(sinks, report.NewStdout(out))
	}
	engine, err := guard.New(cfg, host,
		guard.WithLogger(log),
		guard.WithLevel(lvl),
		guard.WithSinks(sinks...),
	)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	if err := host.Intercept(engine.Interceptor(), nil); err != nil {
		log.Warn("network interception unavailable", "error", err)
	}
	log.Info("guarding page", "url", watchFlags.url, "collector", cfg.CollectorURL)

	if watchFlags.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "tamperguard", Version: version}, nil)
		engine.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				log.Error("mcp stdio stopped", "error", err)
			}
			stop()
		}()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-ticker.C:
			if engine.Status().Phase == guard.PhaseTerminated {
				log.Warn("session terminated by lockdown")
				break wait
			}
		}
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return engine.Shutdown(shutdownCtx)
}

// ephemeralSecrets fills missing hashing secrets with random values. Hashes
// then only compare within this run.
func ephemeralSecrets(cfg *guard.Config) error {
	gen := func() ([]byte, error) {
		b := make([]byte, horosafe.MinSecretLen)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		return []byte(hex.EncodeToString(b)), nil
	}
	var err error
	if len(cfg.IntegritySecret) == 0 {
		logger.Warn("integrity secret not set, using a random one", "env", guard.EnvIntegritySecret)
		if cfg.IntegritySecret, err = gen(); err != nil {
			return err
		}
	}
	if len(cfg.NetworkSecret) == 0 {
		logger.Warn("network secret not set, using a random one", "env", guard.EnvNetworkSecret)
		if cfg.NetworkSecret, err = gen(); err != nil {
			return err
		}
	}
	return nil
}
