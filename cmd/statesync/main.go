package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"statesync/internal/app"
	"statesync/internal/config"
	"statesync/internal/encryption"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates the server tier. The caller must
// defer a.Close().
func newApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts, err := sealerOptions(cfg, cfg.Cache.Store)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:           "statesync",
	Short:         "Synchronize typed records between clients and a server",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		owner, _ := cmd.Flags().GetString("owner")

		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		if owner == "" {
			owner = uuid.New().String()
		}
		cfg := config.NewConfig(owner, paths.BaseDir)
		if _, err := os.Stat(paths.ConfigPath); err == nil {
			return fmt.Errorf("config file already exists at %s", paths.ConfigPath)
		}

		if encrypt {
			passphrase, err := readPassphrase(true)
			if err != nil {
				return err
			}
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return err
			}
			if err := enc.Setup(passphrase); err != nil {
				return fmt.Errorf("setting up encryption: %w", err)
			}
			cfg.Client.Store.Encrypted = true
			fmt.Printf("Encryption keys written to %s\n", filepath.Dir(cfg.Encryption.PublicKeyPath))
		} else {
			cfg.Encryption.Type = config.EncryptionNone
		}

		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Owner ID: %s\n", owner)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Owner ID:  %s\n", cfg.OwnerID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Server:    %s\n", cfg.Server.Addr)
		fmt.Printf("Client:    %s %s\n", cfg.Client.Backend, cfg.Client.BaseURL)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:     %s (%s)\n", v.Name, v.Type)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nProblems:\n%v\n", err)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr = cfg.Server.Addr
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		fmt.Printf("Listening on %s\n", ln.Addr())
		return a.Serve(cmd.Context(), ln)
	},
}

// types command
var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List registered types and their fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, t := range a.Types() {
			mode := ""
			if t.ReadOnly {
				mode = "  [read-only]"
			}
			fmt.Printf("%s%s\n", t.Name, mode)
			for _, f := range t.Fields {
				var flags []string
				if f.Nullable {
					flags = append(flags, "nullable")
				}
				if f.Ordered {
					flags = append(flags, "ordered")
				}
				fmt.Printf("  %-16s %-9s %s\n", f.Name, f.Kind, strings.Join(flags, ","))
			}
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export TYPE",
	Short: "Write a snapshot of every record of TYPE to the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Export(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported %d %s record(s)\n", n, args[0])
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import TYPE",
	Short: "Restore records of TYPE missing from the database from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		imported, skipped, err := a.Import(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported %d %s record(s), skipped %d existing\n", imported, args[0], skipped)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View export and import history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s %-10s %s  %-8s %s\n",
				op.ID,
				op.Operation,
				op.Parameters,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

// db commands
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Copy the sqlite database to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().Bool("encrypt", false, "Generate encryption keys and encrypt the client store")
	configInitCmd.Flags().String("owner", "", "Owner id (default: a new UUID)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbBackupCmd)
	rootCmd.AddCommand(clientCmd)
}
