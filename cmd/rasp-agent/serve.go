package main

import (
	"context"
	"fmt"

	"github.com/dagbolade/rasp-agent/internal/agent"
	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/auth"
	"github.com/dagbolade/rasp-agent/internal/config"
	"github.com/dagbolade/rasp-agent/internal/metrics"
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/dagbolade/rasp-agent/internal/policy"
	"github.com/dagbolade/rasp-agent/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	watchConfig bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and its HTTP surface",
	Long: `Start the agent: load the configuration and policy plugins, run the
module-initialisation checks and serve the protected demo application
together with /health, /audit and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Msg("starting RASP agent")

		ctx, cancel := setupSignalHandler()
		defer cancel()

		if err := run(ctx); err != nil {
			return err
		}

		log.Info().Msg("agent stopped successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveFlags.watchConfig, "watch-config", true, "reload the config file when it changes")
}

func run(ctx context.Context) error {
	store, err := initConfigStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close config watcher")
		}
	}()
	cfg := store.Get()

	policyEngine, err := initPolicyEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := policyEngine.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close policy engine")
		}
	}()

	collector := metrics.NewCollector(nil)

	auditStore, err := initAuditStore(cfg)
	if err != nil {
		return err
	}

	var sink audit.Sink = audit.LogSink{}
	if auditStore != nil {
		async := audit.NewAsyncSink(auditStore, cfg.Audit.QueueSize, audit.WithDropHandler(func(a audit.Alarm) {
			collector.AlarmDropped()
		}))
		sink = async
		// the sink drains into the store, so it closes first
		defer func() {
			if err := async.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to drain audit sink")
			}
			if err := auditStore.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close audit store")
			}
		}()
	}

	a := agent.New(store,
		agent.WithFs(afero.NewOsFs()),
		agent.WithWrappers(pathpolicy.DefaultWrappers()),
		agent.WithPolicy(policyEngine),
		agent.WithSink(sink),
		agent.WithMetrics(collector),
	)
	defer a.Close()

	if err := a.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("some init hooks failed")
	}

	var auditView audit.Store
	if auditStore != nil {
		auditView = auditStore
	}
	srv := server.New(a, auditView, initAuthManager(cfg))

	return runServer(ctx, srv)
}

func initConfigStore() (*config.Store, error) {
	path := configPath()
	log.Info().Str("path", path).Msg("loading configuration")

	store, err := config.Open(path)
	if err != nil {
		return nil, err
	}

	if serveFlags.watchConfig {
		if err := store.Watch(); err != nil {
			log.Warn().Err(err).Msg("config hot reload disabled")
		}
	}
	return store, nil
}

func initAuthManager(cfg *config.Config) *auth.Manager {
	authCfg := cfg.Server.Auth
	log.Info().Bool("required", authCfg.Required).Int("users", len(authCfg.Users)).Msg("initializing auth manager")

	users := make([]auth.Credential, 0, len(authCfg.Users))
	for _, u := range authCfg.Users {
		users = append(users, auth.Credential{Name: u.Name, Password: u.Password, Roles: u.Roles})
	}

	return auth.NewManager(auth.Config{
		JWTSecret:       authCfg.JWTSecret,
		TokenExpiration: cfg.TokenTTL(),
		RequireAuth:     authCfg.Required,
		Users:           users,
	})
}

func initPolicyEngine(cfg *config.Config) (*policy.Engine, error) {
	log.Info().Str("dir", cfg.Plugin.Dir).Str("engine", string(cfg.Plugin.Engine)).Msg("initializing policy engine")

	engine, err := policy.NewEngine(cfg.Plugin.Dir, cfg.Plugin.Engine)
	if err != nil {
		return nil, fmt.Errorf("init policy engine: %w", err)
	}

	log.Info().Strs("plugins", engine.Names()).Msg("policy engine initialized")
	return engine, nil
}

// initAuditStore returns nil when no database is configured; alarms are
// then only logged.
func initAuditStore(cfg *config.Config) (*audit.SQLiteStore, error) {
	if cfg.Audit.DBPath == "" {
		log.Info().Msg("no audit database configured, alarms go to the log")
		return nil, nil
	}

	log.Info().Str("path", cfg.Audit.DBPath).Msg("initializing audit store")

	store, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init audit store: %w", err)
	}

	log.Info().Msg("audit store initialized")
	return store, nil
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
