package backup

import "time"

// MailboxReport is the outcome of the backup of one mailbox
type MailboxReport struct {
	Mailbox string
	// Start is the cursor recovered from disk
	Start uint32
	// Newest is the uid snapshot taken when the mailbox was opened
	Newest uint32
	// Cursor is the last uid processed
	Cursor        uint32
	Windows       int
	FailedWindows int
	Stored        int
	Skipped       int
	Failed        int
	// Abandoned is the reason the mailbox was given up, if any
	Abandoned string
}

// Report is the outcome of one run of a service
type Report struct {
	Service   string
	Account   string
	Start     time.Time
	End       time.Time
	Stored    int
	Skipped   int
	Failed    int
	Mailboxes []*MailboxReport
	Error     string
}

func newReport(service, account string) *Report {
	return &Report{
		Service: service,
		Account: account,
		Start:   time.Now(),
	}
}

func (r *Report) add(mailbox *MailboxReport) {
	r.Mailboxes = append(r.Mailboxes, mailbox)
	r.Stored += mailbox.Stored
	r.Skipped += mailbox.Skipped
	r.Failed += mailbox.Failed
}

func (r *Report) finish(err error) {
	r.End = time.Now()
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration of the run
func (r *Report) Duration() time.Duration {
	if r.End.IsZero() {
		return time.Since(r.Start)
	}
	return r.End.Sub(r.Start)
}

// Abandoned returns the number of mailboxes given up during the run
func (r *Report) Abandoned() int {
	count := 0
	for _, mailbox := range r.Mailboxes {
		if mailbox.Abandoned != "" {
			count++
		}
	}
	return count
}
