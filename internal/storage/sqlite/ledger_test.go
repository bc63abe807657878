package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestClaimIsIdempotent(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	fresh, err := ledger.Claim(ctx, "lead-1", lead.KindProperty, at)
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = ledger.Claim(ctx, "lead-1", lead.KindProperty, at)
	require.NoError(t, err)
	require.False(t, fresh)

	_, err = ledger.Claim(ctx, "", lead.KindProperty, at)
	require.Error(t, err)
}

func TestRecordOutcome(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.Claim(ctx, "lead-1", lead.KindBusiness, time.Now())
	require.NoError(t, err)

	results := []lead.DispatchResult{{Sink: "crm", Success: true}, {Sink: "sheets", Error: "quota"}}
	require.NoError(t, ledger.RecordOutcome(ctx, "lead-1", results))

	got, found, err := ledger.Outcome(ctx, "lead-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, results, got)

	require.Error(t, ledger.RecordOutcome(ctx, "unknown", results))
	_, found, err = ledger.Outcome(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	first, err := NewLedger(ctx, path)
	require.NoError(t, err)
	_, err = first.Claim(ctx, "lead-1", lead.KindProperty, time.Now())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewLedger(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Ping(ctx))
	fresh, err := second.Claim(ctx, "lead-1", lead.KindProperty, time.Now())
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := ledger.Claim(context.Background(), "lead-race", lead.KindProperty, time.Now())
			if err == nil && fresh {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}
