package sheets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

type call struct {
	op    string
	id    string
	rng   string
	value [][]any
}

type fakeValues struct {
	mu      sync.Mutex
	calls   []call
	headers map[string][][]any
	getErr  error
	boldErr error
	// gates holds Get for a spreadsheet until the channel is closed.
	gates map[string]chan struct{}
}

func (f *fakeValues) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeValues) Get(ctx context.Context, id, rng string) ([][]any, error) {
	f.record(call{op: "get", id: id, rng: rng})
	if gate := f.gates[id]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.headers[id], nil
}

func (f *fakeValues) count(op, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op && c.id == id {
			n++
		}
	}
	return n
}

func (f *fakeValues) Update(_ context.Context, id, rng string, v [][]any) error {
	f.record(call{op: "update", id: id, rng: rng, value: v})
	return nil
}

func (f *fakeValues) Append(_ context.Context, id, rng string, v [][]any) error {
	f.record(call{op: "append", id: id, rng: rng, value: v})
	return nil
}

func (f *fakeValues) BoldHeaderRow(_ context.Context, id string) error {
	f.record(call{op: "bold", id: id})
	return f.boldErr
}

func (f *fakeValues) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

var received = time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

func propertyEnvelope() lead.Envelope {
	return lead.Envelope{
		Submission: &lead.Property{
			Address: "1 Main St", Phone: "(555) 123-4567", FirstName: "Ada", LastName: "Lovelace",
			Email: "ada@example.com", PropertyCondition: "Good", Timeframe: "ASAP", Price: "300000",
			LeadID: "p-1", City: "Austin", IsPropertyListed: true,
		},
		Meta: lead.Meta{ReceivedAt: received},
	}
}

func TestDeliverWritesHeadersOnceThenAppends(t *testing.T) {
	t.Parallel()

	api := &fakeValues{}
	sink, err := New(api, Config{PropertySpreadsheetID: "prop"}, nil)
	require.NoError(t, err)
	require.Equal(t, "sheets", sink.Name())

	require.NoError(t, sink.Deliver(context.Background(), propertyEnvelope()))
	require.NoError(t, sink.Deliver(context.Background(), propertyEnvelope()))

	require.Equal(t, []string{"get", "update", "bold", "append", "append"}, api.ops())
	require.Equal(t, "Sheet1!A1:Q1", api.calls[0].rng)
	require.Equal(t, propertyHeaders, api.calls[1].value[0])
	require.Equal(t, "Sheet1!A:Q", api.calls[3].rng)

	row := api.calls[3].value[0]
	require.Len(t, row, 17)
	require.Equal(t, "2024-03-09T14:05:06Z", row[0])
	require.Equal(t, "p-1", row[1])
	require.Equal(t, "Website", row[11])
	require.Equal(t, "Yes", row[16])
}

func TestDeliverSkipsHeaderWriteWhenPresent(t *testing.T) {
	t.Parallel()

	api := &fakeValues{headers: map[string][][]any{"biz": {businessHeaders}}}
	sink, err := New(api, Config{BusinessSpreadsheetID: "biz", SheetName: "Leads"}, nil)
	require.NoError(t, err)

	env := lead.Envelope{
		Submission: &lead.Business{BusinessType: "HVAC", LeadID: "b-1", Phone: "+15551234567"},
		Meta:       lead.Meta{ReceivedAt: received},
	}
	require.NoError(t, sink.Deliver(context.Background(), env))
	require.Equal(t, []string{"get", "append"}, api.ops())
	require.Equal(t, "Leads!A1:K1", api.calls[0].rng)
	require.Equal(t, "Leads!A:K", api.calls[1].rng)
	row := api.calls[1].value[0]
	require.Len(t, row, 11)
	require.Equal(t, "HVAC", row[6])
	require.Equal(t, "Website", row[10])
}

func TestDeliverWithoutSpreadsheetIsNoop(t *testing.T) {
	t.Parallel()

	api := &fakeValues{}
	sink, err := New(api, Config{PropertySpreadsheetID: "prop"}, nil)
	require.NoError(t, err)

	env := lead.Envelope{Submission: &lead.Business{LeadID: "b-1"}}
	require.NoError(t, sink.Deliver(context.Background(), env))
	require.Empty(t, api.ops())
}

func TestDeliverHeaderCheckFailureIsRetried(t *testing.T) {
	t.Parallel()

	api := &fakeValues{getErr: errors.New("quota")}
	sink, err := New(api, Config{PropertySpreadsheetID: "prop"}, nil)
	require.NoError(t, err)

	require.ErrorContains(t, sink.Deliver(context.Background(), propertyEnvelope()), "quota")

	api.mu.Lock()
	api.getErr = nil
	api.mu.Unlock()
	require.NoError(t, sink.Deliver(context.Background(), propertyEnvelope()))
	require.Equal(t, []string{"get", "get", "update", "bold", "append"}, api.ops())
}

func TestSlowHeaderCheckHoldsOnlyItsSpreadsheet(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	api := &fakeValues{
		headers: map[string][][]any{"biz": {businessHeaders}},
		gates:   map[string]chan struct{}{"prop": gate},
	}
	sink, err := New(api, Config{PropertySpreadsheetID: "prop", BusinessSpreadsheetID: "biz"}, nil)
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() { first <- sink.Deliver(context.Background(), propertyEnvelope()) }()
	require.Eventually(t, func() bool { return api.count("get", "prop") == 1 }, time.Second, 5*time.Millisecond)

	// Another spreadsheet is unaffected by the stalled check.
	biz := lead.Envelope{
		Submission: &lead.Business{BusinessType: "HVAC", LeadID: "b-1", Phone: "+15551234567"},
		Meta:       lead.Meta{ReceivedAt: received},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Deliver(ctx, biz))
	require.Equal(t, 1, api.count("append", "biz"))

	// The same spreadsheet waits for the headers, bounded by its own context.
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	err = sink.Deliver(short, propertyEnvelope())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "wait for header check")
	require.Zero(t, api.count("append", "prop"))

	close(gate)
	require.NoError(t, <-first)
	require.Equal(t, 1, api.count("get", "prop"))
	require.Equal(t, 1, api.count("update", "prop"))
	require.Equal(t, 1, api.count("append", "prop"))
}

func TestDeliverIgnoresBoldFailure(t *testing.T) {
	t.Parallel()

	api := &fakeValues{boldErr: errors.New("forbidden")}
	sink, err := New(api, Config{PropertySpreadsheetID: "prop"}, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Deliver(context.Background(), propertyEnvelope()))
	require.Equal(t, "append", api.ops()[3])
}

func TestPropertyRowDefaults(t *testing.T) {
	t.Parallel()

	row := PropertyRow(&lead.Property{ReferralSource: "Friend"}, "ts")
	require.Equal(t, "Friend", row[11])
	require.Equal(t, "No", row[16])

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}
