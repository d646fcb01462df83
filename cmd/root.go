package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/creativeprojects/gbackup/cfg"
	"github.com/creativeprojects/gbackup/term"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gbackup",
	Short: "Incremental backup of mail, calendar and contacts",
	Long:  "\nIncremental backup of mail (IMAP), calendar (iCalendar) and contacts (CardDAV) to local files",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLog()
		return initConfig()
	},
	SilenceUsage: true,
}

func init() {
	flag := rootCmd.PersistentFlags()
	flag.StringVarP(&global.configFile, "config", "c", "gbackup.yaml", "configuration file")
	flag.BoolVarP(&global.quiet, "quiet", "q", false, "only display warnings and errors")
	flag.BoolVarP(&global.verbose, "verbose", "v", false, "display debugging information")
}

func initConfig() error {
	var err error
	config, err = cfg.LoadFromFileOrEmpty(global.configFile)
	if err != nil {
		term.Errorf("cannot read configuration file: %s", err)
		return err
	}
	return nil
}

// initLog sends every entry to the hooks (the progress display needs them all),
// and only the entries at the requested level to stderr
func initLog() {
	level := logrus.WarnLevel
	switch {
	case global.verbose:
		term.SetLevel(term.LevelDebug)
		level = logrus.DebugLevel
	case global.quiet:
		term.SetLevel(term.LevelWarn)
	}
	logger = logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.TraceLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.AddHook(&writer.Hook{
		Writer:    os.Stderr,
		LogLevels: logrus.AllLevels[:level+1],
	})
}

// Execute runs the command line with the version information set at build time
func Execute(version, commit, date, builtBy string) {
	setApp(version, commit, date, builtBy)
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built on %s by %s)", version, commit, date, builtBy)
	if err := rootCmd.Execute(); err != nil {
		term.Error(err)
		os.Exit(1)
	}
}
