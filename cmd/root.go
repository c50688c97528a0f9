package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "invoicedesk",
	Short: "Invoice extraction and management workspace",
	Long:  "Extracts structured invoices from uploaded documents via Claude, deduplicates them, and serves an editing and chat API over the stored records.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
