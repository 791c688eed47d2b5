// Command wasuite runs the WhatsApp Business messaging API and its
// maintenance tasks.
//
//	wasuite serve                 HTTP API, webhook, realtime hub and broadcast dispatcher
//	wasuite migrate               create or update the database schema
//	wasuite create-admin ...      bootstrap a platform administrator
//
// Configuration comes from the environment; a .env file in the working
// directory is loaded first when present.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-wa-backend/internal/config"
	"github.com/tbourn/go-wa-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wasuite",
	Short: "WhatsApp Business messaging backend",
	Long: `wasuite serves the phonebook, broadcast, chatbot and shared inbox API
on top of the WhatsApp Cloud API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		sysutil.SetupLogger(sysutil.LogOptions{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: cfg.OTEL.ServiceName, Version: version})
		log.Debug().Str("cmd", cmd.Name()).Str("version", version).Msg("config loaded")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the build version",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
