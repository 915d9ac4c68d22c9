package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"statesync/internal/app"
	"statesync/internal/config"
	"statesync/internal/endpoint"
	"statesync/internal/query"
)

// newClient reads the config and creates the client tier. The caller must
// defer c.Close().
func newClient(ctx context.Context) (*app.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	stores := []config.StoreConfig{cfg.Client.Store}
	if cfg.Client.Backend == "local" {
		stores = append(stores, cfg.Cache.Store)
	}
	opts, err := sealerOptions(cfg, stores...)
	if err != nil {
		return nil, err
	}
	c, err := app.NewClient(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing client: %w", err)
	}
	return c, nil
}

// parsePredicates reads field=value_Operator[_secondary] arguments.
func parsePredicates(args []string) ([]query.Predicate, error) {
	preds := make([]query.Predicate, 0, len(args))
	for _, arg := range args {
		field, encoded, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("predicate %q: want field=value_Operator", arg)
		}
		p, err := query.ParsePredicate(field, encoded)
		if err != nil {
			return nil, fmt.Errorf("predicate %q: %w", arg, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Read and delete records through the client tier",
}

var clientGetCmd = &cobra.Command{
	Use:   "get TYPE ID",
	Short: "Load one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		v, err := c.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(v)
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list TYPE [PREDICATE...]",
	Short: "Load every record matching all predicates",
	Example: `  statesync client list order status=Delivered_Equals
  statesync client list contact age=10_Between_20`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		preds, err := parsePredicates(args[1:])
		if err != nil {
			return err
		}
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		vs, err := c.List(cmd.Context(), args[0], preds)
		if err != nil {
			return err
		}
		return printJSON(vs)
	},
}

var clientSearchCmd = &cobra.Command{
	Use:   "search TYPE [PREDICATE...]",
	Short: "Load the first record matching all predicates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		preds, err := parsePredicates(args[1:])
		if err != nil {
			return err
		}
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		v, found, err := c.Search(cmd.Context(), args[0], preds)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("No match.")
			return nil
		}
		return printJSON(v)
	},
}

var clientDeleteCmd = &cobra.Command{
	Use:   "delete TYPE ID",
	Short: "Delete one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Delete(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s %s\n", args[0], args[1])
		return nil
	},
}

var clientRecentCmd = &cobra.Command{
	Use:   "recent TYPE",
	Short: "Show the most recently cached record of TYPE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		v, found, err := c.Recent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("Nothing cached.")
			return nil
		}
		return printJSON(v)
	},
}

var clientWatchCmd = &cobra.Command{
	Use:   "watch TYPE",
	Short: "Follow changes of TYPE, evicting them from the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Watch(cmd.Context(), args[0], func(ch endpoint.Change) {
			fmt.Printf("%s  %-7s %s %s\n", ch.At.Local().Format("15:04:05"), ch.Op, ch.Entity, ch.ID)
		})
	},
}

func init() {
	clientCmd.AddCommand(clientGetCmd)
	clientCmd.AddCommand(clientListCmd)
	clientCmd.AddCommand(clientSearchCmd)
	clientCmd.AddCommand(clientDeleteCmd)
	clientCmd.AddCommand(clientRecentCmd)
	clientCmd.AddCommand(clientWatchCmd)
}
