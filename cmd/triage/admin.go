package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailtriage/internal/engine"
	"mailtriage/pkg/db"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/util"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !cfg.DB.Enabled() {
				return errors.New("db.host is not configured")
			}
			log := logger.NewLogger(cfg.Log)
			defer log.Sync()

			pool, err := db.NewConnection(cmd.Context(), cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool, log)
		},
	}
}

// statsCmd 加载持久化状态并输出学习/任务统计，不启动服务
func statsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print learning and task statistics from the persisted state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log := logger.NewLogger(cfg.Log)
			defer log.Sync()

			store, pool, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			eng := engine.New(cfg.Engine, store, log)
			if err := eng.Load(cmd.Context()); err != nil {
				return err
			}

			out, err := json.MarshalIndent(eng.Snapshot().Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func tokenCmd(flags *globalFlags) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with jwt.secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errors.New("jwt.secret is empty; the API is unauthenticated")
			}
			token, err := util.GenerateJWT(subject, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "gui", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}
