package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"diffit/internal/api"
	"diffit/internal/app"
	"diffit/internal/config"
	"diffit/internal/diffit"
	"diffit/internal/encryption"
	"diffit/internal/events"
	"diffit/internal/imaging"
	"diffit/internal/pixeldiff"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides. When
// no config file exists the defaults are used, so containers can be
// configured from the environment alone.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.NewConfig(hostname(), defaults.BaseDir)
	} else if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "diffit"
	}
	return h
}

// newApp loads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "serve", "import").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(ctx, cfg, operation, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "diffit",
	Short:        "Visual regression testing backend",
	SilenceUsage: true,
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		srv := api.NewServer(a.Service(), a.Logger(), a.Config().Server)
		if err := srv.ListenAndServe(ctx); err != nil {
			a.Fail(err)
			return err
		}
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening the database applies pending migrations.
		a, err := newApp(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Database schema is up to date (%s)\n", a.Config().Database.Type)
		return nil
	},
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Listen:      %s\n", cfg.Server.Addr)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Storage:     %s\n", cfg.Storage.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Events:      %s\n", cfg.Events.Type)
		fmt.Printf("Threshold:   %g (include_aa=%t)\n", cfg.Diff.Threshold, cfg.Diff.IncludeAA)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the artifact encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc == nil {
			return fmt.Errorf("encryption is disabled; set [encryption] type = \"age\" first")
		}
		if enc.IsConfigured() {
			return fmt.Errorf("encryption keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Printf("Set %s to let the server read stored images.\n", encryption.EnvPassphrase)
		return nil
	},
}

func readNewPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("keys init needs an interactive terminal")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare BASE COMPARISON",
	Short: "Diff two image files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		opts := pixeldiff.DefaultOptions()
		opts.Threshold, _ = cmd.Flags().GetFloat64("threshold")
		opts.IncludeAA, _ = cmd.Flags().GetBool("include-aa")

		res, err := app.CompareFiles(args[0], args[1], opts)
		if errors.Is(err, pixeldiff.ErrDimensionMismatch) {
			fmt.Println("Dimensions differ: 100% difference")
			return err
		}
		if err != nil {
			return err
		}

		fmt.Printf("Different pixels:    %d\n", res.DiffPixels)
		fmt.Printf("Anti-aliased pixels: %d\n", res.AAPixels)
		fmt.Printf("Difference:          %.4f%%\n", res.Percentage)

		if output != "" {
			data, err := imaging.Encode(res.Mask)
			if err != nil {
				return fmt.Errorf("encoding mask: %w", err)
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("writing mask: %w", err)
			}
			fmt.Printf("Mask written to %s\n", output)
		}
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import DIR",
	Short: "Submit a directory of screenshots into a build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buildID, _ := cmd.Flags().GetString("build")
		finalize, _ := cmd.Flags().GetBool("finalize")

		a, err := newApp(cmd.Context(), "import")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ImportDirectory(cmd.Context(), buildID, args[0])
		if err != nil {
			a.Fail(err)
			return err
		}

		for _, item := range result.Items {
			switch {
			case item.Error != "":
				fmt.Printf("FAIL  %s  %s\n", item.Name, item.Error)
			case item.Snapshot.Changed():
				fmt.Printf("DIFF  %s  %.4f%%\n", item.Name, item.Snapshot.DiffPercentage)
			default:
				fmt.Printf("OK    %s\n", item.Name)
			}
		}
		fmt.Printf("Submitted %d snapshot(s), %d failed\n", result.Submitted, result.Failed)

		if finalize {
			b, err := a.Service().FinalizeBuild(cmd.Context(), buildID)
			if err != nil {
				a.Fail(err)
				return err
			}
			fmt.Printf("Build #%d %s: %d changed of %d\n", b.BuildNumber, b.Status, b.ChangedSnapshots, b.TotalSnapshots)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Write a copy of the SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "backup")
		if err != nil {
			return err
		}
		defer a.Close()

		dest, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if err := a.BackupDatabase(cmd.Context(), dest); err != nil {
			a.Fail(err)
			return err
		}
		fmt.Printf("Database written to %s\n", dest)
		return nil
	},
}

// events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect pipeline events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events from the redis channel as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "events")
		if err != nil {
			return err
		}
		defer a.Close()

		pub, ok := a.Events().(*events.RedisPublisher)
		if !ok {
			return fmt.Errorf("events tail needs [events] type = \"redis\"")
		}
		enc := json.NewEncoder(os.Stdout)
		return pub.Subscribe(ctx, func(e diffit.Event) {
			enc.Encode(e)
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// db subcommands
	dbCmd.AddCommand(dbBackupCmd)

	// events subcommands
	eventsCmd.AddCommand(eventsTailCmd)

	compareCmd.Flags().StringP("output", "o", "", "Write the diff mask to this PNG file")
	compareCmd.Flags().Float64P("threshold", "t", pixeldiff.DefaultOptions().Threshold, "Per-pixel color threshold (0 to 1)")
	compareCmd.Flags().Bool("include-aa", false, "Count anti-aliased pixels as differences")

	importCmd.Flags().StringP("build", "b", "", "ID of the build to submit into")
	importCmd.MarkFlagRequired("build")
	importCmd.Flags().Bool("finalize", false, "Finalize the build after the import")

	// root commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(eventsCmd)
}
