package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imageinsight/internal/config"
	"imageinsight/internal/journal"
	"imageinsight/internal/provider"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the vision and chat backends are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig("Telegram.Token")
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			c, err := buildCore(ctx, cfg)
			if err != nil {
				return err
			}

			backends := c.backends()
			results := provider.CheckHealth(ctx, backends)
			roles := make([]string, 0, len(results))
			for role := range results {
				roles = append(roles, role)
			}
			sort.Strings(roles)

			out := cmd.OutOrStdout()
			unhealthy := 0
			for _, role := range roles {
				name := backends[role].Name()
				if err := results[role]; err != nil {
					fmt.Fprintf(out, "  %-6s %-8s DOWN  %v\n", role, name, err)
					unhealthy++
				} else {
					fmt.Fprintf(out, "  %-6s %-8s OK\n", role, name)
				}
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d backend(s) unhealthy", unhealthy)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nSet TELEGRAM_API_TOKEN and GROQ_API_KEY in the environment, or fill in the file.\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, "Telegram.Token", "Chat.APIKey", "Vision.APIKey")
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.ResolvePath(configPath))
		},
	})

	return cmd
}

func journalCmd() *cobra.Command {
	var limit int
	var prune bool
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recently handled events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, "Telegram.Token", "Chat.APIKey", "Vision.APIKey")
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Journal.DBPath); err != nil {
				return fmt.Errorf("no journal at %s (enable journal.enabled and run the bot first)", cfg.Journal.DBPath)
			}
			store, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			if prune {
				pruner, err := newPruner(cfg, store)
				if err != nil {
					return err
				}
				defer pruner.Stop()
				n, err := pruner.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d event(s)\n", n)
				return nil
			}

			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			printEntries(cmd, entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete events older than journal.retention_days and exit")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []journal.Entry) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCHANNEL\tCHAT\tMSG\tKIND\tROUTE\tSTATUS\tLATENCY\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Channel, e.ChatID, e.MessageID, e.Kind, e.Route, e.Status,
			e.Latency.Round(time.Millisecond), e.Error)
	}
	w.Flush()
}
