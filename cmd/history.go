package cmd

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/creativeprojects/gbackup/backup"
	"github.com/creativeprojects/gbackup/storage/history"
	"github.com/creativeprojects/gbackup/term"
	"github.com/spf13/cobra"
)

const (
	dateFormat        = "2006-01-02 15:04:05 MST"
	durationPrecision = 10 * time.Millisecond
)

var historyCmd = &cobra.Command{
	Use:   "history [account]",
	Short: "Display history of backups",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historyFlags struct {
	limit     int
	mailboxes bool
}

func init() {
	flag := historyCmd.Flags()
	flag.IntVarP(&historyFlags.limit, "limit", "n", 20, "number of backups to display")
	flag.BoolVarP(&historyFlags.mailboxes, "mailboxes", "m", false, "display the details of each mailbox")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	account, err := loadAccount(name)
	if err != nil {
		return err
	}
	filename := historyFile(account)
	if _, err := os.Stat(filename); err != nil {
		term.Warn("No backup yet for this account")
		return nil
	}
	store, err := history.NewBoltStoreWithLogger(filename, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reports, err := store.List(account.Username, historyFlags.limit)
	if errors.Is(err, history.ErrAccountNotFound) {
		term.Warn("No backup yet for this account")
		return nil
	}
	if err != nil {
		return err
	}
	if err := term.Table(historyTable(reports)); err != nil {
		return err
	}
	if historyFlags.mailboxes && len(reports) > 0 {
		last := lastMailReport(reports)
		if last != nil {
			term.Infof("\nMailboxes of the last mail backup (%s):", last.Start.Format(dateFormat))
			return term.Table(mailboxTable(last))
		}
	}
	return nil
}

func historyTable(reports []*backup.Report) [][]string {
	rows := [][]string{{"Date", "Service", "Stored", "Skipped", "Failed", "Duration", "Error"}}
	for _, report := range reports {
		rows = append(rows, []string{
			report.Start.Format(dateFormat),
			report.Service,
			strconv.Itoa(report.Stored),
			strconv.Itoa(report.Skipped),
			strconv.Itoa(report.Failed),
			report.Duration().Truncate(durationPrecision).String(),
			report.Error,
		})
	}
	return rows
}

func lastMailReport(reports []*backup.Report) *backup.Report {
	for i := len(reports) - 1; i >= 0; i-- {
		if reports[i].Service == backup.MailService {
			return reports[i]
		}
	}
	return nil
}

func mailboxTable(report *backup.Report) [][]string {
	rows := [][]string{{"Mailbox", "Start", "Newest", "Cursor", "Windows", "Stored", "Skipped", "Failed", "Abandoned"}}
	for _, mbox := range report.Mailboxes {
		rows = append(rows, []string{
			mbox.Mailbox,
			formatUint(mbox.Start),
			formatUint(mbox.Newest),
			formatUint(mbox.Cursor),
			strconv.Itoa(mbox.Windows) + "/" + strconv.Itoa(mbox.FailedWindows),
			strconv.Itoa(mbox.Stored),
			strconv.Itoa(mbox.Skipped),
			strconv.Itoa(mbox.Failed),
			mbox.Abandoned,
		})
	}
	return rows
}

func formatUint(value uint32) string {
	return strconv.FormatUint(uint64(value), 10)
}
