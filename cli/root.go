package cli

import (
	"fmt"
	"net/http"

	"github.com/foomo/geocat-mcp/config"
	"github.com/foomo/geocat-mcp/service"
	"github.com/foomo/geocat-mcp/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geocat-mcp",
		Short: "Shared objects of a geocat catalog over MCP",
		Long: `geocat-mcp lists, inserts and edits the reusable shared objects of a
GeoNetwork catalog (contacts, extents, keywords and formats) and exposes
them as MCP tools over stdio or streamable HTTP.

Configuration is read from --config, a .env file and GEOCAT_* environment
variables, the environment taking precedence.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path of the yaml config file")
	rootCmd.PersistentFlags().String("env-file", "", "Path of a .env file, defaults to ./.env when present")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newListCmd(),
		newKeywordCmd(),
		newSubtemplateCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// runtime holds everything commands talk to the catalog with
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *service.Client
	sessions session.Store
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	client, err := service.NewClient(service.CatalogSettings{
		BaseURL:  cfg.Catalog.ServiceURL(),
		Username: cfg.Catalog.Username,
		Password: cfg.Catalog.Password,
		Schema:   cfg.Catalog.Schema,
	}, &http.Client{Timeout: cfg.Catalog.Timeout}, logger.Named("catalog"))
	if err != nil {
		return nil, err
	}

	var sessions session.Store
	if cfg.Session.RedisURL != "" {
		store, err := session.NewRedisStore(cfg.Session.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		sessions = store
		logger.Info("using redis edit sessions")
	} else {
		sessions = session.NewMemoryStore()
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		sessions: sessions,
	}, nil
}

func (r *runtime) newService(opts ...service.Option) service.Service {
	opts = append([]service.Option{
		service.WithInsertSettings(service.InsertSettings{
			Timeout:     r.cfg.Insert.Timeout,
			Concurrency: r.cfg.Insert.Concurrency,
		}),
		service.WithSessionTTL(r.cfg.Session.TTL),
	}, opts...)
	return service.NewService(r.client, nil, r.sessions, r.logger.Named("service"), opts...)
}

func (r *runtime) Close() {
	if err := r.sessions.Close(); err != nil {
		r.logger.Warn("failed to close session store", zap.Error(err))
	}
	_ = r.logger.Sync()
}
