package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/clicktrail/internal/app"
	"github.com/foxzi/clicktrail/internal/config"
	"github.com/foxzi/clicktrail/internal/db"
	"github.com/foxzi/clicktrail/internal/server"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clicktrail",
	Short: "Clicktrail - email click and unsubscribe tracking",
	Long: `Clicktrail rewrites links in outgoing campaign emails into signed tracking
links, records clicks and unsubscribes, and sends test emails.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking gateway and owner API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clicktrail version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.Logging, os.Stdout)

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	fmt.Println("Migrations completed successfully")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen:      %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database:    %s\n", cfg.Database.Path)
	fmt.Printf("  Base URL:    %s\n", cfg.Tracking.BaseURL)
	fmt.Printf("  Click path:  %s\n", cfg.Tracking.ClickPath)
	fmt.Printf("  Unsub path:  %s\n", cfg.Tracking.UnsubscribePath)
	fmt.Printf("  Mail mode:   %s\n", cfg.Mail.Mode)
	if cfg.Mail.Mode == config.ModeSMTP {
		fmt.Printf("  SMTP relay:  %s:%d (%s)\n", cfg.Mail.SMTP.Host, cfg.Mail.SMTP.Port, cfg.Mail.SMTP.TLS)
	}
	if cfg.Mail.DKIM.Enabled {
		fmt.Printf("  DKIM:        %s._domainkey.%s\n", cfg.Mail.DKIM.Selector, cfg.Mail.DKIM.Domain)
	}
	fmt.Printf("  API tokens:  %d\n", len(cfg.API.Tokens))
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:     %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	if cfg.Server.TLS.Enabled {
		info, err := server.ReadCertificateInfo(cfg.Server.TLS.CertFile)
		if err != nil {
			return fmt.Errorf("failed to read TLS certificate: %w", err)
		}
		fmt.Printf("  TLS:         %s, expires %s (%d days)\n",
			info.Subject, info.NotAfter.Format("2006-01-02"), info.DaysLeft())
	}

	return nil
}
