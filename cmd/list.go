package cmd

import (
	"fmt"
	"strings"

	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/creativeprojects/gbackup/remote"
	"github.com/creativeprojects/gbackup/term"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [account]",
	Short: "Display list of mailboxes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	account, err := loadAccount(name)
	if err != nil {
		return err
	}
	session, err := remote.NewImap(imapConfig(account, logger))
	if err != nil {
		return err
	}
	defer session.Close()

	rows, err := listMailboxes(session)
	if err != nil {
		return err
	}
	return term.Table(rows)
}

// listMailboxes examines every selectable mailbox of the account
func listMailboxes(session *remote.Imap) ([][]string, error) {
	list, err := session.ListMailbox()
	if err != nil {
		return nil, fmt.Errorf("cannot list account mailbox: %w", err)
	}
	catalog, err := mailbox.NewCatalog(list)
	if err != nil {
		return nil, err
	}
	rows := [][]string{{"Mailbox", "Messages", "Newest UID", "Special use"}}
	err = catalog.Walk(func(mbox *mailbox.Mailbox) error {
		indent := strings.Repeat("  ", len(mbox.Path)-1)
		row := []string{indent + mbox.Path[len(mbox.Path)-1], "", "", strings.TrimPrefix(mbox.SpecialUse, "\\")}
		if mbox.Selectable {
			status, err := session.ExamineMailbox(mbox)
			if err != nil {
				return err
			}
			row[1] = formatUint(status.Messages)
			row[2] = formatUint(status.NewestUID)
			if err := session.UnselectMailbox(); err != nil {
				return err
			}
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
