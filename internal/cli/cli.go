package cli

import (
	"fmt"
	"os"

	"github.com/mailroute/core/internal/api/middleware"
	"github.com/mailroute/core/internal/config"
	"github.com/mailroute/core/internal/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	db            *gorm.DB
	cfg           *config.Config
	apiKeyManager *middleware.APIKeyManager
	logService    *services.LogService
	vipService    *services.VipService
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mailroute",
	Short: "Inbound email processing and routing engine",
	Long: `MailRoute receives inbound email, parses and sanitizes it, resolves
delivery endpoints and dispatches to webhooks or forward targets.

This command line tool provides maintenance operations:
  - Key management: show and reset the API key
  - Session management: sweep expired VIP payment sessions

Examples:
  mailroute key show         # show the current API key
  mailroute key reset        # reset the API key
  mailroute session sweep    # expire stale payment sessions now`,
}

// Execute runs the CLI with the provided database and config
func Execute(database *gorm.DB, config *config.Config) {
	db = database
	cfg = config

	// Initialize API key manager
	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not initialize API key manager: %v\n", err)
		os.Exit(1)
	}

	logService = services.NewLogServiceWithLevel(db, cfg.LogLevel)
	vipService = services.NewVipService(db, logService, nil, nil, cfg.ForwardFromAddress)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(sessionCmd)
}
