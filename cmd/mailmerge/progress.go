package main

import (
	"fmt"
	"sync"

	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/pterm/pterm"
)

// progressBar renders dispatch progress. The bar starts on the first
// update because the total is only known once the pending set is fixed.
type progressBar struct {
	mu sync.Mutex
	pb *pterm.ProgressbarPrinter
}

func newProgressBar() *progressBar {
	return &progressBar{}
}

func (b *progressBar) Update(p model.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		pb, err := pterm.DefaultProgressbar.
			WithTotal(p.Total).
			WithTitle("Processing").
			Start()
		if err != nil {
			return
		}
		b.pb = pb
	}
	b.pb.Current = p.Current
	b.pb.UpdateTitle(fmt.Sprintf("Processing %d/%d", p.Current, p.Total))
}

func (b *progressBar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb != nil {
		b.pb.Stop()
	}
}
