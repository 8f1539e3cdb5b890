package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/app"
	"github.com/drfirst/go-tdm/internal/config"
	"github.com/drfirst/go-tdm/internal/infrastructure/postgres"
	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
)

func migrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the result, outbox and inbox tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := adminEnv(v)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if !cfg.UsesDatabase() {
				return errors.New("no database configured")
			}

			pool, err := app.OpenDatabase(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("database schema up to date")
			return nil
		},
	}
}

func topicsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Create the queries, results and dead letter topics and report worker lag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := adminEnv(v)
			if err != nil {
				return err
			}
			defer logger.Sync()

			admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			if err := admin.EnsureTopics(cmd.Context()); err != nil {
				return err
			}
			logger.Info("topics ready", zap.Strings("brokers", cfg.KafkaBrokers))

			group := redpanda.DefaultConsumerConfig().GroupID
			lags, err := admin.GroupLag(cmd.Context(), group)
			if err != nil {
				logger.Warn("consumer lag not available", zap.String("group", group), zap.Error(err))
				return nil
			}
			for topic, lag := range lags {
				logger.Info("consumer lag",
					zap.String("group", group),
					zap.String("topic", topic),
					zap.Int64("lag", lag))
			}
			return nil
		},
	}
}

func adminEnv(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := app.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}
