// Package cmd implements the proxy's single-command CLI (spec.md §6: "one
// invocation form — a single command accepting --config <path>"),
// grounded on the teacher corpus's cobra root-command setup style
// (package-level rootCmd, Execute() wrapper) reduced to this one form —
// there is no login/status/stop surface to subcommand here.
package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/relaycore/claude-router/internal/clientcache"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/relaycore/claude-router/internal/dispatch"
	"github.com/relaycore/claude-router/internal/httpapi"
	"github.com/relaycore/claude-router/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const listenAddr = ":8080"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "claude-router",
	Short: "Anthropic-to-OpenAI reverse proxy",
	Long:  "Terminates the Anthropic Messages API and re-originates each request against a routed downstream provider, translating Anthropic Messages semantics into OpenAI Responses or Chat Completions semantics as needed.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file (required)")
	_ = rootCmd.MarkFlagRequired("config")
}

// Execute runs the root command; exit code 0 on clean shutdown, non-zero
// on config-load failure at startup (spec.md §6).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// A .env file beside the process seeds the api_key_env variables;
	// already-set variables win.
	_ = godotenv.Load()

	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer mgr.Close()

	cfg := mgr.Current()
	logging.Setup(cfg.LogLevel)
	if cfg.LogFile != "" {
		if err := logging.ToFile(cfg.LogFile); err != nil {
			return err
		}
	}

	cache := clientcache.New()
	mgr.OnReload = func(*config.Config) { cache.Reset() }

	if err := mgr.Watch(); err != nil {
		log.WithError(err).Warn("config: hot reload disabled, watch failed to start")
	}

	dispatcher := dispatch.New(mgr.Current, cache)
	dispatcher.Options = dispatch.Options{KeepAliveInterval: time.Duration(cfg.StreamKeepAliveMS) * time.Millisecond}
	engine := httpapi.NewServer(dispatcher)

	log.WithField("addr", listenAddr).Info("listening")
	return http.ListenAndServe(listenAddr, engine)
}
