package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

var (
	configPath  string
	sinceFlag   string
	untilFlag   string
	formatFlag  string
	fullMessage bool
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "whatdid",
	Short: "Whatdid collects your activity from the services you work in",
	Long: `Whatdid gathers what you did across issue trackers, code review,
wikis and boards for a given date range and prints one unified status
report. Each section of the config file enables one service.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "",
		"config file (default ~/.config/whatdid/config.ini)")
	flags.StringVar(&sinceFlag, "since", "",
		"start of the date range as YYYY-MM-DD (default one week back)")
	flags.StringVar(&untilFlag, "until", "",
		"end of the date range as YYYY-MM-DD, exclusive (default today)")
	flags.StringVar(&formatFlag, "format", string(models.FormatPlain),
		"output format: plain or markdown")
	flags.BoolVar(&fullMessage, "full-message", false,
		"print the full text below each item")
	flags.StringVar(&logLevel, "log-level", "",
		"log level: debug, info, warn or error")
}

func run(cmd *cobra.Command, args []string) error {
	if logLevel != "" {
		logging.SetupLogger(os.Stderr, logging.LogLevel(logLevel))
	}
	format := models.Format(formatFlag)
	if format != models.FormatPlain && format != models.FormatMarkdown {
		return fmt.Errorf("invalid format %q, expected plain or markdown", formatFlag)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	user, err := cfg.User()
	if err != nil {
		return err
	}
	window, err := window()
	if err != nil {
		return err
	}

	connectors, err := buildConnectors(cfg)
	if err != nil {
		return err
	}
	if len(connectors) == 0 {
		return fmt.Errorf("no report sections configured in %q", cfg.Path())
	}

	runner := &report.Runner{
		Connectors: connectors,
		Options:    models.RenderOptions{Format: format, FullMessage: fullMessage},
		Out:        cmd.OutOrStdout(),
	}
	return runner.Run(cmd.Context(), user, window)
}

// window resolves the date range from flags, defaulting to the week
// ending today. The until date is exclusive.
func window() (report.DateWindow, error) {
	today := time.Now().UTC().Format(report.DateFormat)
	since := sinceFlag
	if since == "" {
		since = time.Now().UTC().AddDate(0, 0, -7).Format(report.DateFormat)
	}
	until := untilFlag
	if until == "" {
		until = today
	}
	return report.NewWindow(since, until)
}
