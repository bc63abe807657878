package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/lead-intake/internal/cache"
	"github.com/JakeFAU/lead-intake/internal/lead"
)

// LedgerEntry is what the in-memory ledger remembers per lead.
type LedgerEntry struct {
	Kind       lead.Kind
	ReceivedAt time.Time
	Outcome    []lead.DispatchResult
}

// Ledger is a process-local lead ledger. Entries expire after the configured
// retention, after which a repeated lead id is treated as new.
type Ledger struct {
	mu      sync.Mutex
	entries *cache.TTL[string, LedgerEntry]
}

// NewLedger builds a Ledger holding up to size leads for retention.
func NewLedger(size int, retention time.Duration, clock cache.Clock) (*Ledger, error) {
	entries, err := cache.NewTTL[string, LedgerEntry](size, retention, clock)
	if err != nil {
		return nil, fmt.Errorf("build ledger cache: %w", err)
	}
	return &Ledger{entries: entries}, nil
}

// Claim records leadID and reports whether it was new.
func (l *Ledger) Claim(_ context.Context, leadID string, kind lead.Kind, at time.Time) (bool, error) {
	if leadID == "" {
		return false, fmt.Errorf("lead id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries.Get(leadID); ok {
		return false, nil
	}
	l.entries.Set(leadID, LedgerEntry{Kind: kind, ReceivedAt: at})
	return true, nil
}

// RecordOutcome attaches dispatch results to a claimed lead.
func (l *Ledger) RecordOutcome(_ context.Context, leadID string, results []lead.DispatchResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries.Get(leadID)
	if !ok {
		return fmt.Errorf("lead %q not claimed", leadID)
	}
	entry.Outcome = append([]lead.DispatchResult(nil), results...)
	l.entries.Set(leadID, entry)
	return nil
}

// Entry returns what the ledger holds for leadID.
func (l *Ledger) Entry(leadID string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Get(leadID)
}
