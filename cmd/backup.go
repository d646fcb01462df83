package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/creativeprojects/gbackup/backup"
	"github.com/creativeprojects/gbackup/cfg"
	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/storage/history"
	"github.com/creativeprojects/gbackup/term"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup [account]",
	Short: "Backup mail, calendar and contacts of an account",
	Long: "\nBackup mail, calendar and contacts of an account.\n" +
		"Without an account name, the default account is configured from the environment " +
		"(" + strings.Join([]string{cfg.EnvUsername, cfg.EnvPassword, cfg.EnvFilepath, cfg.EnvServices}, ", ") + ")",
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

var backupFlags struct {
	services string
	progress bool
}

func init() {
	flag := backupCmd.Flags()
	flag.StringVarP(&backupFlags.services, "services", "s", "", "comma separated list of services to backup (mail, calendar, contacts)")
	flag.BoolVarP(&backupFlags.progress, "progress", "p", false, "display progress")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	account, err := loadAccount(name)
	if err != nil {
		return err
	}
	if backupFlags.services != "" {
		account.Services = cfg.ParseServices(backupFlags.services)
		if err := account.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if backupFlags.progress {
		spinner, _ := pterm.DefaultSpinner.Start("backup in progress")
		progress := newProgresser(spinner)
		logger.AddHook(progress)
		defer progress.Stop()
	}

	results, err := backupAccount(ctx, account, logger)
	if err != nil {
		return err
	}
	_ = term.Table(reportTable(results))
	return resultsError(results)
}

// backupAccount runs all the services of the account and saves their reports
func backupAccount(ctx context.Context, account *cfg.Account, log logrus.FieldLogger) ([]backup.ServiceResult, error) {
	log = log.WithField(lib.FieldAccount, account.Username)
	services, err := newServices(account, log)
	if err != nil {
		return nil, err
	}
	results := backup.RunServices(ctx, services...)

	store, err := history.NewBoltStoreWithLogger(historyFile(account), log)
	if err != nil {
		log.WithError(err).Warn("history not saved")
		return results, nil
	}
	defer store.Close()
	for _, result := range results {
		if result.Report == nil {
			continue
		}
		if err := store.Add(result.Report); err != nil {
			log.WithError(err).Warnf("%s history not saved", result.Service)
		}
	}
	return results, nil
}

func historyFile(account *cfg.Account) string {
	return filepath.Join(account.Root, history.Filename)
}

func reportTable(results []backup.ServiceResult) [][]string {
	rows := [][]string{{"Service", "Stored", "Skipped", "Failed", "Abandoned", "Duration", "Error"}}
	for _, result := range results {
		row := []string{result.Service, "", "", "", "", "", ""}
		if report := result.Report; report != nil {
			row[1] = strconv.Itoa(report.Stored)
			row[2] = strconv.Itoa(report.Skipped)
			row[3] = strconv.Itoa(report.Failed)
			row[4] = strconv.Itoa(report.Abandoned())
			row[5] = report.Duration().Truncate(durationPrecision).String()
		}
		if result.Err != nil {
			row[6] = result.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// resultsError returns an error when at least one service failed
func resultsError(results []backup.ServiceResult) error {
	failed := make([]string, 0, len(results))
	for _, result := range results {
		if result.Err != nil {
			failed = append(failed, result.Service)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if len(failed) == len(results) {
		return errors.New("backup failed")
	}
	return fmt.Errorf("backup failed for %s", strings.Join(failed, ", "))
}
