package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/creativeprojects/gbackup/storage/mdir"
	"github.com/creativeprojects/gbackup/term"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <directory> [account]",
	Short: "Export the mail backup to maildir folders",
	Long: "\nExport the mail backup to maildir folders (one folder per mailbox).\n" +
		"Running the export again only copies the messages added since the previous export.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	account, err := loadAccount(name)
	if err != nil {
		return err
	}
	store, err := openMailStore(account, logger)
	if err != nil {
		return err
	}
	target, err := mdir.NewWithLogger(args[0], logger)
	if err != nil {
		return err
	}

	term.Debugf("exporting %s to %s", store.Root(), target.Root())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	count, err := target.Export(ctx, store)
	term.Infof("%d messages exported to %s", count, target.Root())
	return err
}
