package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	meshgate "github.com/meshgate/meshgate"
	"github.com/meshgate/meshgate/config"
	"github.com/meshgate/meshgate/conversation"
	"github.com/meshgate/meshgate/gateway"
	"github.com/meshgate/meshgate/logging"
	"github.com/meshgate/meshgate/routing"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		dbPath     string
	)

	root := &cobra.Command{
		Use:           "meshgate",
		Short:         "Multi-agent coordination gateway over MCP",
		Long:          "meshgate runs an MCP server that coordinates multi-agent conversations:\nlifecycle management, rule-based message routing, conflict resolution and\nshared context synchronization.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path override (empty: in-memory)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if dbPath != "" {
				cfg.Database = dbPath
			}
			return serveGateway(cmd.Context(), cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meshgate %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}

func serveGateway(ctx context.Context, cfg *config.Config) error {
	logCfg := logging.DefaultLoggerConfig()
	logCfg.Level = logging.ParseLogLevel(cfg.LogLevel)
	logCfg.Format = cfg.LogFormat
	logCfg.Component = "gateway"
	logger := logging.NewLogger(logCfg)

	rules := routing.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := routing.LoadRules(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("load routing rules: %w", err)
		}
		rules = append(rules, loaded...)
	}

	opts := []func(o *meshgate.Options){
		func(o *meshgate.Options) {
			o.Rules = rules
			o.InactivityTimeout = cfg.InactivityTimeout.Std()
			o.TotalTimeout = cfg.TotalTimeout.Std()
			o.ResponseTimeout = cfg.ResponseTimeout.Std()
			o.QuorumFraction = cfg.QuorumFraction
			o.Consensus.Threshold = cfg.ConsensusThreshold
			o.Consensus.MaxRounds = cfg.ConsensusMaxRounds
			o.Consensus.EscalationTier = cfg.EscalationTier
			o.Logger = logger
		},
	}

	var store *conversation.SQLiteStore
	if cfg.Database != "" {
		var err error
		store, err = conversation.NewSQLiteStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}
		defer store.Close()
		opts = append(opts, func(o *meshgate.Options) { o.ConversationStore = store })
		logger.Info("using SQLite conversation store", "path", cfg.Database)
	}

	gw := meshgate.New(opts...)
	gw.Start()
	defer gw.Stop()

	srv, err := gateway.NewServer(gw, gateway.ServerConfig{
		Name:           "meshgate",
		Version:        version,
		CallsPerMinute: cfg.RateLimit.CallsPerMinute,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting meshgate", "version", version)
	return srv.Run(ctx)
}
