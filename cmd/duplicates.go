package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/creativeprojects/gbackup/term"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates [account]",
	Short: "Find emails stored in more than one mailbox (in the local backup)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDuplicates,
}

var duplicatesFlags struct {
	details bool
}

func init() {
	duplicatesCmd.Flags().BoolVarP(&duplicatesFlags.details, "details", "d", false, "display the mailboxes of each duplicate message")
	rootCmd.AddCommand(duplicatesCmd)
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	account, err := loadAccount(name)
	if err != nil {
		return err
	}
	store, err := openMailStore(account, logger)
	if err != nil {
		return err
	}
	labels, err := store.Labels()
	if err != nil {
		return fmt.Errorf("cannot list mailboxes: %w", err)
	}
	term.Debugf("reading %d mailboxes in %s", len(labels), store.Root())

	pbar, _ := pterm.DefaultProgressbar.WithTotal(len(labels)).WithTitle("reading mailboxes").Start()
	mailboxes, err := findDuplicates(store, labels, func() {
		if pbar != nil {
			pbar.Increment()
		}
	})
	if pbar != nil {
		_, _ = pbar.Stop()
	}
	if err != nil {
		return err
	}

	duplicates := 0
	rows := [][]string{{"Message", "Mailboxes"}}
	for _, identity := range sortedKeys(mailboxes) {
		if len(mailboxes[identity]) < 2 {
			continue
		}
		duplicates++
		rows = append(rows, []string{identity, strings.Join(mailboxes[identity], ", ")})
	}
	if duplicatesFlags.details && duplicates > 0 {
		_ = term.Table(rows)
	}

	fmt.Printf("total of %d unique messages\n", len(mailboxes))
	if duplicates == 0 {
		fmt.Print("no message in more than one mailbox\n")
	} else if duplicates == 1 {
		fmt.Print("found 1 message in more than one mailbox\n")
	} else {
		fmt.Printf("found %d messages in more than one mailbox\n", duplicates)
	}
	return nil
}

// findDuplicates returns the mailboxes referencing each canonical message
func findDuplicates(store *disk.Store, labels [][]string, increment func()) (map[string][]string, error) {
	mailboxes := make(map[string][]string)
	for _, label := range labels {
		references, err := store.References(label)
		if err != nil {
			return nil, err
		}
		name := strings.Join(label, "/")
		for _, reference := range references {
			canonical, err := store.Resolve(reference.Path)
			if err != nil {
				term.Warnf("invalid reference %q: %s", reference.Path, err)
				continue
			}
			identity := strings.TrimSuffix(filepath.Base(canonical), disk.Extension)
			mailboxes[identity] = append(mailboxes[identity], name)
		}
		if increment != nil {
			increment()
		}
	}
	return mailboxes, nil
}

func sortedKeys(values map[string][]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
