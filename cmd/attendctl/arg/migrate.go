package arg

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qrattendance/internal/app"
	"qrattendance/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the attendance schema and seed configured sections",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.StoreBackend == "memory" {
			return fmt.Errorf("nothing to migrate for the memory store")
		}
		cfg.AutoMigrate = true
		deps, err := app.Build(cmd.Context(), cfg, zap.NewNop(), nil)
		if err != nil {
			return err
		}
		defer deps.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema ready, %d section(s) seeded\n", cfg.StoreBackend, len(cfg.Sections))
		return nil
	},
}

var storeFlags struct {
	backend string
	sqlite  string
	dsn     string
}

// loadConfig reads the normal config and applies store flags on top.
func loadConfig() (config.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.App{}, err
	}
	if storeFlags.backend != "" {
		cfg.StoreBackend = storeFlags.backend
	}
	if storeFlags.sqlite != "" {
		cfg.SQLitePath = storeFlags.sqlite
	}
	if storeFlags.dsn != "" {
		cfg.DatabaseURL = storeFlags.dsn
	}
	// The CLI never talks to redis.
	cfg.QueueBackend = "memory"
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFlags.backend, "store", "", "store backend: postgres, sqlite or memory (default from config)")
	rootCmd.PersistentFlags().StringVar(&storeFlags.sqlite, "sqlite", "", "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&storeFlags.dsn, "dsn", "", "postgres connection string")
	rootCmd.AddCommand(migrateCmd)
}
