// Command pdfcover replaces the cover of every PDF in a ZIP archive without
// holding the whole archive in memory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/local/pdfcover/internal/logger"
)

// version is set at build time via ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "pdfcover",
		Short:   "Batch cover replacement for PDF archives",
		Version: version,
		Long: `pdfcover replaces the first page of every PDF in a ZIP archive with a cover
(PDF, PNG, JPEG or SVG), blanks header and footer bands on the interior pages
and drops the last page. Large archives are processed chunk by chunk.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			level, _ := cmd.Flags().GetString("log-level")
			file, _ := cmd.Flags().GetString("log-file")
			return logger.Init(logger.Options{
				Level:      level,
				Pretty:     true,
				File:       file,
				MaxSizeMB:  100,
				MaxBackups: 3,
				Console:    cmd.ErrOrStderr(),
			})
		},
	}
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-file", "", "also write JSON logs to this file")
	root.AddCommand(newProcessCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer logger.Close()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
