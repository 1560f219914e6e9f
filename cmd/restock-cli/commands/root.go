package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"restock-monitor/internal/app"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/configutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	monitor app.App
)

var rootCmd = &cobra.Command{
	Use:   "restock-cli",
	Short: "restock-cli manages the products and subscriptions of the restock monitor.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)
		if cmd.Name() == "help" {
			return nil
		}

		read := configutil.ReadRecursively[app.Config]
		if filepath.IsAbs(configPath) {
			read = configutil.ReadConfig[app.Config]
		}
		cfg, err := read(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		monitor, err = app.New(cmd.Context(), cfg, telemetry.SlogAPI{})
		if err != nil {
			return fmt.Errorf("init monitor: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if monitor.DB != nil {
			monitor.Close()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "Name of the configuration file, searched for up from the working directory.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
