package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/kv"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/pubsub"
	"taskboard/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, or roll back the latest one with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if version == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", version)
				return nil
			}
			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			for _, version := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", version)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func newRebalanceCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "rebalance <container-id>",
		Short: "Renumber a project's lists or a list's tasks to even spacing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, db, err := setup(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			// Live clients hear about the rebalance when Redis is reachable.
			var bus ordering.Bus
			if client, err := kv.Connect(ctx, cfg.RedisURL); err != nil {
				logger.Warn("redis unavailable, rebalance will not be broadcast", "error", err)
			} else {
				defer client.Close()
				redisBus := pubsub.NewRedis(client, logger)
				defer redisBus.Close()
				bus = redisBus
			}

			var event ordering.MoveEvent
			switch kind {
			case "lists":
				event, err = ordering.New[store.List](ordering.ListsInProjects, cfg.Policy(), store.NewListSequenceStore(db), bus, logger).Rebalance(ctx, args[0])
			case "tasks":
				event, err = ordering.New[store.Task](ordering.TasksInLists, cfg.Policy(), store.NewTaskSequenceStore(db), bus, logger).Rebalance(ctx, args[0])
			default:
				return fmt.Errorf("--kind must be lists or tasks, got %q", kind)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(event)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "tasks", "what to rebalance: lists (in a project) or tasks (in a list)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create the user if needed and print an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, db, err := setup(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := store.NewPostgresStore(db).EnsureUser(ctx, email, name)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), user.ID, user.DisplayName, user.Email, cfg.AccessTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the user")
	cmd.Flags().StringVar(&name, "name", "", "display name used when the user is created")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
