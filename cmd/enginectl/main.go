// Package main implements enginectl, the operator CLI that wires C1-C11
// together for manual store/search/reconcile exercise (SPEC_FULL.md 10).
// Grounded on the teacher's cmd/worker/main.go for logging setup and
// graceful shutdown, and on liliang-cn-sqvect/cmd/sqvect/main.go for the
// cobra command tree shape: package-level flag variables, one *cobra.Command
// var per (sub)command, RunE closures that open the store for the duration
// of a single invocation.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/4xguy/federated-memory-sub003/internal/config"
	"github.com/4xguy/federated-memory-sub003/internal/writepipeline"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	flagDatabaseURL    string
	flagCacheURL       string
	flagEmbeddingURL   string
	flagEmbeddingKey   string
	flagEmbeddingModel string
	flagMockEmbed      bool
	flagSqliteDir      string
	flagFDim           int
	flagCDim           int
	flagVerbose        bool

	flagUserID  string
	flagModule  string
	flagModules string
	flagLimit   int
)

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Operator CLI for the federated semantic memory store",
	Long: `enginectl wires the embedding provider, per-module vector stores,
CMI, registry, loader, federated search orchestrator, health supervisor,
write pipeline and reconciliation worker together for manual exercise and
smoke-testing. It is not a transport: no HTTP or MCP server is started.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

var storeCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a memory in one module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagModule == "" {
			return fmt.Errorf("enginectl: --module is required")
		}
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		mod, ok := app.registry.Get(flagModule)
		if !ok {
			return fmt.Errorf("enginectl: unknown module %q", flagModule)
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		out := app.pipe.Store(ctx, mod, flagUserID, args[0], models.Metadata{})
		switch out.State {
		case writepipeline.StateIndexed:
			fmt.Printf("stored %s/%s/%s\n", flagModule, flagUserID, out.ID)
		case writepipeline.StateIndexPending:
			fmt.Printf("stored %s/%s/%s (index pending: %v)\n", flagModule, flagUserID, out.ID, out.Err)
		default:
			return fmt.Errorf("enginectl: store: %w", out.Err)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Federated search across the healthy modules CMI routing selects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		if !app.hasCMI() {
			return fmt.Errorf("enginectl: search requires --database-url (CMI-backed federated routing is unavailable in sqlite demo mode)")
		}

		opts := models.DefaultSearchOptions()
		if flagLimit > 0 {
			opts.Limit = flagLimit
		}
		if flagModules != "" {
			opts.Modules = strings.Split(flagModules, ",")
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		resp, err := app.orch.Search(ctx, flagUserID, args[0], opts)
		if err != nil {
			return fmt.Errorf("enginectl: search: %w", err)
		}

		for _, r := range resp.Results {
			fmt.Printf("%.4f\t%s\t%s\t%s\n", r.Score, r.Module, r.ID, truncate(r.Content, 80))
		}
		if resp.Partial {
			fmt.Printf("(partial: skipped %s)\n", strings.Join(resp.SkippedModules, ", "))
		}
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List every registered module and its lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		for _, d := range app.registry.All() {
			state, _ := app.registry.State(d.ID)
			fmt.Printf("%-16s %-12s %-10s active=%v\n", d.ID, d.Type, state, d.IsActive)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the supervisor's latest health snapshot per module",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		for _, d := range app.registry.All() {
			h, ok := app.registry.Health(d.ID)
			if !ok {
				fmt.Printf("%-16s (no probe yet)\n", d.ID)
				continue
			}
			fmt.Printf("%-16s %-10s errorRate=%.3f avgMs=%.1f\n", d.ID, h.Status, h.Metrics.ErrorRate, h.Metrics.AverageResponseTimeMs)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Force one reconciliation cycle now instead of waiting for the ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		if app.reconc == nil {
			return fmt.Errorf("enginectl: reconcile requires --database-url (CMI is Postgres-only)")
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		app.reconc.RunOnce(ctx)
		fmt.Println("reconciliation cycle complete")
		return nil
	},
}

// newApp builds the App for one CLI invocation from the package-level
// flag variables, overlaying them onto config.FromEnv() so an operator can
// mix environment defaults (spec.md 6) with one-off flag overrides.
func newApp(ctx context.Context) (*App, error) {
	cfg := config.FromEnv()
	if flagDatabaseURL != "" {
		cfg.DatabaseURL = flagDatabaseURL
	}
	if flagCacheURL != "" {
		cfg.CacheURL = flagCacheURL
	}
	if flagEmbeddingURL != "" {
		cfg.EmbeddingURL = flagEmbeddingURL
	}
	if flagEmbeddingKey != "" {
		cfg.EmbeddingKey = flagEmbeddingKey
	}
	if flagEmbeddingModel != "" {
		cfg.EmbeddingModel = flagEmbeddingModel
	}
	if flagMockEmbed {
		cfg.AllowMockEmbed = true
	}
	if flagFDim > 0 {
		cfg.FDim = flagFDim
	}
	if flagCDim > 0 {
		cfg.CDim = flagCDim
	}
	config.SetGlobal(cfg)
	return buildApp(ctx, cfg, flagSqliteDir)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "database-url", "", "Postgres DSN for CMI + module vector stores (falls back to a local sqlite demo store when empty)")
	rootCmd.PersistentFlags().StringVar(&flagCacheURL, "cache-url", "", "Redis address (falls back to an in-process LRU cache when empty)")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddingURL, "embedding-url", "", "Embedding provider base URL")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddingKey, "embedding-key", "", "Embedding provider API key")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddingModel, "embedding-model", "", "Embedding model name")
	rootCmd.PersistentFlags().BoolVar(&flagMockEmbed, "mock-embed", false, "Use a deterministic mock embedder instead of a live provider")
	rootCmd.PersistentFlags().StringVar(&flagSqliteDir, "sqlite-dir", ".", "Directory for the sqlite demo store when --database-url is unset")
	rootCmd.PersistentFlags().IntVar(&flagFDim, "f-dim", 0, "Full embedding dimension override")
	rootCmd.PersistentFlags().IntVar(&flagCDim, "c-dim", 0, "Compressed embedding dimension override")
	rootCmd.PersistentFlags().StringVar(&flagUserID, "user", "demo-user", "User id to operate as")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")

	storeCmd.Flags().StringVar(&flagModule, "module", "", "Module id to store into (technical, personal, work, learning, communication, creative)")

	searchCmd.Flags().StringVar(&flagModules, "modules", "", "Comma-separated module ids to restrict the search to (default: the modules CMI routing selects)")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 0, "Result limit override")

	rootCmd.AddCommand(storeCmd, searchCmd, modulesCmd, healthCmd, reconcileCmd)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("enginectl failed")
	}
}
