package phone

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubClient struct {
	mu        sync.Mutex
	calls     int
	countries []string
	result    Lookup
	err       error
}

func (s *stubClient) Lookup(_ context.Context, _ string, country string) (Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.countries = append(s.countries, country)
	return s.result, s.err
}

func (s *stubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newValidator(t *testing.T, client Client, clk *fakeClock) *Validator {
	t.Helper()
	v, err := New(Config{CacheTTL: 24 * time.Hour, CacheSize: 16}, client, clk, nil)
	require.NoError(t, err)
	return v
}

func TestHeuristic(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		valid     bool
		formatted string
	}{
		{"(555) 123-4567", true, "+15551234567"},
		{"555.123.4567", true, "+15551234567"},
		{"2125550000", true, "+12125550000"},
		{"(155) 123-4567", false, "(155) 123-4567"},
		{"555-1234", false, "555-1234"},
		{"1 (555) 123-4567", false, "1 (555) 123-4567"},
		{"", false, ""},
	}
	for _, tc := range cases {
		got := Heuristic(tc.in)
		require.Equal(t, tc.valid, got.Valid, tc.in)
		require.Equal(t, tc.formatted, got.Formatted, tc.in)
		if !tc.valid {
			require.Equal(t, "Invalid phone number format", got.Error, tc.in)
		}
	}
}

func TestValidateCachesServiceResults(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	client := &stubClient{result: Lookup{Valid: true, InternationalFormat: "+15551234567", LineType: "mobile", Carrier: "Acme"}}
	v := newValidator(t, client, clk)

	first := v.Validate(context.Background(), "(555) 123-4567", "US")
	require.True(t, first.Valid)
	require.Equal(t, "+15551234567", first.Formatted)
	require.Equal(t, "Acme", first.Carrier)

	clk.Advance(23 * time.Hour)
	second := v.Validate(context.Background(), "(555) 123-4567", "US")
	require.Equal(t, first, second)
	require.Equal(t, 1, client.Calls())

	clk.Advance(time.Hour)
	v.Validate(context.Background(), "(555) 123-4567", "US")
	require.Equal(t, 2, client.Calls())
}

func TestValidateCacheKeyIncludesCountry(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	client := &stubClient{result: Lookup{Valid: true, LineType: "fixed_line"}}
	v := newValidator(t, client, clk)

	v.Validate(context.Background(), "5551234567", "US")
	v.Validate(context.Background(), "5551234567", "CA")
	v.Validate(context.Background(), "5551234567", "")
	require.Equal(t, 2, client.Calls())
	require.Equal(t, []string{"US", "CA"}, client.countries)
}

func TestValidateRejectsUnsupportedLineType(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	client := &stubClient{result: Lookup{Valid: true, InternationalFormat: "+18005550000", LineType: "toll_free"}}
	v := newValidator(t, client, clk)

	got := v.Validate(context.Background(), "(800) 555-0000", "US")
	require.False(t, got.Valid)
	require.Equal(t, "Please provide a valid mobile or landline number", got.Error)
}

func TestValidateReportsInvalidNumber(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	client := &stubClient{result: Lookup{Valid: false}}
	v := newValidator(t, client, clk)

	got := v.Validate(context.Background(), "(555) 123-4567", "US")
	require.False(t, got.Valid)
	require.Equal(t, "(555) 123-4567", got.Formatted)
	require.Equal(t, "Invalid phone number", got.Error)
}

func TestValidateFallsBackWithoutCachingFailures(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	client := &stubClient{err: errors.New("connection refused")}
	v := newValidator(t, client, clk)

	got := v.Validate(context.Background(), "(555) 123-4567", "US")
	require.True(t, got.Valid)
	require.Equal(t, "+15551234567", got.Formatted)
	require.Equal(t, "Phone validation service temporarily unavailable", got.Error)

	v.Validate(context.Background(), "(555) 123-4567", "US")
	require.Equal(t, 2, client.Calls())
}

func TestValidateWithoutClientUsesHeuristic(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	v := newValidator(t, nil, clk)

	require.True(t, v.Validate(context.Background(), "(555) 123-4567", "").Valid)
	require.False(t, v.Validate(context.Background(), "555-1234", "").Valid)
}
