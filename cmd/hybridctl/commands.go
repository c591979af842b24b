package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/minkalla/hybridcrypto"
	"github.com/minkalla/hybridcrypto/internal/config"
	"github.com/minkalla/hybridcrypto/internal/logger"
	"github.com/minkalla/hybridcrypto/internal/store"
)

type cli struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "hybridctl",
		Short:         "Operate the hybrid cryptographic core",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is a development convenience; absence is fine.
			_ = godotenv.Load()

			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg

			if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err == nil {
				logger.SetLevel(level)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default hybridcrypto.yaml)")

	root.AddCommand(
		c.statusCmd(),
		c.migrateCmd(),
		c.rollbackCmd(),
		c.resetCircuitCmd(),
	)
	return root
}

// buildService assembles a service from the loaded config. The returned
// cleanup releases the service and any store connection.
func (c *cli) buildService(ctx context.Context) (*hybridcrypto.Service, func(), error) {
	opts := []hybridcrypto.Option{
		hybridcrypto.WithEngineCommand(c.cfg.Engine.Command, c.cfg.Engine.Args...),
		hybridcrypto.WithCallTimeout(c.cfg.Engine.CallTimeout),
		hybridcrypto.WithRetries(c.cfg.Engine.MaxRetries),
		hybridcrypto.WithRetryBaseDelay(c.cfg.Engine.RetryBaseDelay),
		hybridcrypto.WithCircuitThreshold(hybridcrypto.CircuitEncryption, c.cfg.Circuit.EncryptionThreshold),
		hybridcrypto.WithCircuitThreshold(hybridcrypto.CircuitSigning, c.cfg.Circuit.SigningThreshold),
		hybridcrypto.WithCircuitThreshold(hybridcrypto.CircuitKeyGeneration, c.cfg.Circuit.KeyGenThreshold),
		hybridcrypto.WithResetTimeout(c.cfg.Circuit.ResetTimeout),
		hybridcrypto.WithMigrationConfig(hybridcrypto.MigrationConfig{
			Workers:       c.cfg.Migration.Workers,
			RatePerSecond: c.cfg.Migration.RatePerSecond,
			HaltOnError:   c.cfg.Migration.HaltOnError,
		}),
		hybridcrypto.WithTelemetrySink(hybridcrypto.LogSink{}),
	}

	cleanup := func() {}
	if c.cfg.Store.MongoURI != "" {
		ms, disconnect, err := store.ConnectMongo(ctx, c.cfg.Store.MongoURI, c.cfg.Store.Database, c.cfg.Store.Collection)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, hybridcrypto.WithRecordStore(ms))
		cleanup = func() { _ = disconnect(context.Background()) }
	}

	svc, err := hybridcrypto.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, func() {
		_ = svc.Close()
		cleanup()
	}, nil
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the engine, the classical fallback, and every circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := c.buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			return printJSON(svc.Health(cmd.Context()))
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Encrypt every placeholder record in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := c.buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.MigrateAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%w: %d of %d records", hybridcrypto.ErrMigrationPartial, report.Failed, report.Scanned)
			}
			return nil
		},
	}
}

func (c *cli) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore prior plaintext on every migrated record",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := c.buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.RollbackAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%w: %d of %d records", hybridcrypto.ErrMigrationPartial, report.Failed, report.Scanned)
			}
			return nil
		},
	}
}

func (c *cli) resetCircuitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-circuit [name]",
		Short: "Force a circuit closed; with no name, reset all circuits",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := c.buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			names := []string{
				hybridcrypto.CircuitEncryption,
				hybridcrypto.CircuitSigning,
				hybridcrypto.CircuitKeyGeneration,
			}
			if len(args) == 1 {
				names = args
			}
			for _, name := range names {
				svc.ResetCircuit(name)
				fmt.Printf("circuit %s reset\n", name)
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
