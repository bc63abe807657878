// Package sheets appends leads to Google Sheets, one spreadsheet per lead kind.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

// SinkName is reported in dispatch results.
const SinkName = "sheets"

// ValuesAPI is the subset of the Sheets API the sink needs.
type ValuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
	Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error
	Append(ctx context.Context, spreadsheetID, rng string, values [][]any) error
	BoldHeaderRow(ctx context.Context, spreadsheetID string) error
}

// Config selects the spreadsheets. An empty id skips that kind.
type Config struct {
	PropertySpreadsheetID string
	BusinessSpreadsheetID string
	SheetName             string
}

var (
	propertyHeaders = []any{
		"Timestamp", "Lead ID", "First Name", "Last Name", "Email", "Phone",
		"Address", "Property Condition", "Timeframe", "Price", "Comments",
		"Referral Source", "Street Address", "City", "State", "Postal Code", "Is Listed",
	}
	businessHeaders = []any{
		"Timestamp", "Lead ID", "First Name", "Last Name", "Email", "Phone",
		"Business Type", "Annual Revenue", "Reason for Selling", "Timeline", "Source",
	}
)

type layout struct {
	spreadsheetID string
	headers       []any
	lastColumn    string
}

// Sink appends one row per lead after making sure the header row exists.
type Sink struct {
	api    ValuesAPI
	sheet  string
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	headers map[string]*headerLatch
}

// headerLatch serializes the header check for one spreadsheet. It only
// latches after a successful check, so a failed check is retried.
type headerLatch struct {
	sem  chan struct{}
	done atomic.Bool
}

func newHeaderLatch() *headerLatch {
	return &headerLatch{sem: make(chan struct{}, 1)}
}

// New builds a Sink over api.
func New(api ValuesAPI, cfg Config, logger *zap.Logger) (*Sink, error) {
	if api == nil {
		return nil, fmt.Errorf("sheets api is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sheet := cfg.SheetName
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &Sink{api: api, sheet: sheet, cfg: cfg, logger: logger, headers: map[string]*headerLatch{}}, nil
}

// Name implements dispatcher.Sink.
func (s *Sink) Name() string { return SinkName }

// Deliver appends the lead to its kind's spreadsheet.
func (s *Sink) Deliver(ctx context.Context, env lead.Envelope) error {
	l, row, err := s.rowFor(env)
	if err != nil {
		return err
	}
	if l.spreadsheetID == "" {
		s.logger.Debug("no spreadsheet configured for kind; skipping",
			zap.String("kind", string(env.Submission.Kind())))
		return nil
	}
	if err := s.ensureHeaders(ctx, l); err != nil {
		return err
	}
	rng := fmt.Sprintf("%s!A:%s", s.sheet, l.lastColumn)
	if err := s.api.Append(ctx, l.spreadsheetID, rng, [][]any{row}); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

func (s *Sink) rowFor(env lead.Envelope) (layout, []any, error) {
	ts := env.Meta.ReceivedAt.UTC().Format(time.RFC3339)
	switch sub := env.Submission.(type) {
	case *lead.Property:
		return layout{s.cfg.PropertySpreadsheetID, propertyHeaders, "Q"}, PropertyRow(sub, ts), nil
	case *lead.Business:
		return layout{s.cfg.BusinessSpreadsheetID, businessHeaders, "K"}, BusinessRow(sub, ts), nil
	default:
		return layout{}, nil, fmt.Errorf("unsupported submission %T", env.Submission)
	}
}

// ensureHeaders writes and bolds the header row when row 1 is empty. A
// successful check is remembered for the life of the process. Deliveries to
// the same spreadsheet wait for an in-flight check so no row lands ahead of
// the headers; other spreadsheets are not held up.
func (s *Sink) ensureHeaders(ctx context.Context, l layout) error {
	latch := s.latchFor(l.spreadsheetID)
	if latch.done.Load() {
		return nil
	}
	select {
	case latch.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for header check: %w", ctx.Err())
	}
	defer func() { <-latch.sem }()
	if latch.done.Load() {
		return nil
	}

	rng := fmt.Sprintf("%s!A1:%s1", s.sheet, l.lastColumn)
	existing, err := s.api.Get(ctx, l.spreadsheetID, rng)
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	if len(existing) == 0 {
		if err := s.api.Update(ctx, l.spreadsheetID, rng, [][]any{l.headers}); err != nil {
			return fmt.Errorf("write header row: %w", err)
		}
		if err := s.api.BoldHeaderRow(ctx, l.spreadsheetID); err != nil {
			// Formatting is cosmetic; the headers are in place.
			s.logger.Warn("failed to bold header row", zap.Error(err))
		}
		s.logger.Info("added header row", zap.String("range", rng))
	}
	latch.done.Store(true)
	return nil
}

func (s *Sink) latchFor(spreadsheetID string) *headerLatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	latch, ok := s.headers[spreadsheetID]
	if !ok {
		latch = newHeaderLatch()
		s.headers[spreadsheetID] = latch
	}
	return latch
}

// PropertyRow lays out a property lead in columns A:Q.
func PropertyRow(p *lead.Property, ts string) []any {
	referral := p.ReferralSource
	if strings.TrimSpace(referral) == "" {
		referral = "Website"
	}
	listed := "No"
	if p.IsPropertyListed {
		listed = "Yes"
	}
	return []any{
		ts, p.LeadID, p.FirstName, p.LastName, p.Email, p.Phone,
		p.Address, p.PropertyCondition, p.Timeframe, p.Price, p.Comments,
		referral, p.StreetAddress, p.City, p.State, p.PostalCode, listed,
	}
}

// BusinessRow lays out a business lead in columns A:K.
func BusinessRow(b *lead.Business, ts string) []any {
	return []any{
		ts, b.LeadID, b.FirstName, b.LastName, b.Email, b.Phone,
		b.BusinessType, b.AnnualRevenue, b.ReasonForSelling, b.Timeline, "Website",
	}
}
