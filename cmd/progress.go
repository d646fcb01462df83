package cmd

import (
	"fmt"
	"sync"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

// progresser is a log hook counting the outcome of each message, event and contact
type progresser struct {
	mu      sync.Mutex
	spinner *pterm.SpinnerPrinter
	counts  map[string]int
}

func newProgresser(spinner *pterm.SpinnerPrinter) *progresser {
	return &progresser{
		spinner: spinner,
		counts:  make(map[string]int, 3),
	}
}

func (p *progresser) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (p *progresser) Fire(entry *logrus.Entry) error {
	outcome, ok := entry.Data[lib.FieldOutcome].(string)
	if !ok || !isItemOutcome(outcome) {
		return nil
	}
	// a skipped window has no identity
	if _, ok := entry.Data[lib.FieldIdentity]; !ok {
		if _, ok := entry.Data[lib.FieldUID]; !ok {
			return nil
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[outcome]++
	if p.spinner != nil {
		p.spinner.UpdateText(p.text())
	}
	return nil
}

func (p *progresser) Count(outcome string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[outcome]
}

func (p *progresser) Stop() {
	if p.spinner == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.spinner.Stop()
}

func (p *progresser) text() string {
	return fmt.Sprintf("%d stored, %d skipped, %d failed",
		p.counts[lib.OutcomeStored], p.counts[lib.OutcomeSkipped], p.counts[lib.OutcomeFailed])
}

func isItemOutcome(outcome string) bool {
	return outcome == lib.OutcomeStored || outcome == lib.OutcomeSkipped || outcome == lib.OutcomeFailed
}
