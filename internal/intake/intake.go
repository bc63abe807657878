// Package intake runs one form submission through the gates (throttle, parse,
// bot check, field validation, phone verification) and then dispatches it.
package intake

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/metrics"
	"github.com/JakeFAU/lead-intake/internal/phone"
	"github.com/JakeFAU/lead-intake/internal/throttle"
	"github.com/JakeFAU/lead-intake/internal/validate"
)

// Submission outcome labels.
const (
	OutcomeAccepted     = "accepted"
	OutcomeDuplicate    = "duplicate"
	OutcomeThrottled    = "throttled"
	OutcomeInvalidJSON  = "invalid_json"
	OutcomeBotRejected  = "bot_rejected"
	OutcomeInvalid      = "invalid"
	OutcomePhoneInvalid = "phone_invalid"
)

// Throttle limits submissions per client address.
type Throttle interface {
	Allow(addr string) throttle.Decision
}

// BotVerifier checks attestation tokens.
type BotVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) bool
}

// PhoneValidator verifies and normalizes phone numbers.
type PhoneValidator interface {
	Validate(ctx context.Context, phone, country string) phone.Result
}

// Dispatcher delivers an accepted lead to its sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, env lead.Envelope) []lead.DispatchResult
}

// Request is one raw submission.
type Request struct {
	Body []byte
	Meta lead.Meta
}

// Receipt describes an accepted submission.
type Receipt struct {
	LeadID    string
	Kind      lead.Kind
	Duplicate bool
	Results   []lead.DispatchResult
}

// Deps are the collaborators of Service. Ledger may be nil.
type Deps struct {
	Throttle   Throttle
	Bot        BotVerifier
	Phone      PhoneValidator
	Dispatcher Dispatcher
	Ledger     lead.Ledger
	Clock      lead.Clock
	Logger     *zap.Logger
}

// Service is the submission pipeline.
type Service struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and returns a Service.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Throttle == nil:
		return nil, fmt.Errorf("throttle is required")
	case deps.Bot == nil:
		return nil, fmt.Errorf("bot verifier is required")
	case deps.Phone == nil:
		return nil, fmt.Errorf("phone validator is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger.Named("intake")}, nil
}

// Submit runs req through every gate and dispatches it. The returned error is
// one of the lead error types when a gate rejects the request. Sink failures
// never produce an error.
func (s *Service) Submit(ctx context.Context, req Request) (Receipt, error) {
	meta := req.Meta
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = s.deps.Clock.Now()
	}
	logger := s.logger.With(zap.String("request_id", meta.RequestID))

	decision := s.deps.Throttle.Allow(meta.ClientAddr)
	if !decision.Allowed {
		metrics.ObserveSubmission("", OutcomeThrottled)
		logger.Info("submission throttled", zap.Duration("retry_after", decision.RetryAfter))
		return Receipt{}, &lead.ThrottleError{RetryAfter: decision.RetryAfter}
	}

	sub, token, err := lead.Decode(req.Body)
	if err != nil {
		metrics.ObserveSubmission("", OutcomeInvalidJSON)
		logger.Info("submission body rejected", zap.Error(err))
		return Receipt{}, err
	}
	kind := string(sub.Kind())
	logger = logger.With(zap.String("lead_id", sub.ID()), zap.String("kind", kind))
	logger.Info("submission received")

	if token != "" && !s.deps.Bot.Verify(ctx, token, meta.ClientAddr) {
		metrics.ObserveSubmission(kind, OutcomeBotRejected)
		return Receipt{}, lead.ErrBotCheckFailed
	}

	if err := validate.Submission(sub); err != nil {
		metrics.ObserveSubmission(kind, OutcomeInvalid)
		logger.Info("submission failed validation", zap.Error(err))
		return Receipt{}, err
	}

	if err := s.verifyPhone(ctx, sub); err != nil {
		metrics.ObserveSubmission(kind, OutcomePhoneInvalid)
		logger.Info("phone rejected", zap.Error(err))
		return Receipt{}, err
	}

	receipt := Receipt{LeadID: sub.ID(), Kind: sub.Kind()}
	if !s.claim(ctx, sub, meta, logger) {
		metrics.ObserveSubmission(kind, OutcomeDuplicate)
		logger.Info("duplicate lead id; skipping dispatch")
		receipt.Duplicate = true
		return receipt, nil
	}

	// The lead is accepted from here on; a client disconnect must not abort delivery.
	dispatchCtx := context.WithoutCancel(ctx)
	receipt.Results = s.deps.Dispatcher.Dispatch(dispatchCtx, lead.Envelope{Submission: sub, Meta: meta})
	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.RecordOutcome(dispatchCtx, sub.ID(), receipt.Results); err != nil {
			logger.Warn("failed to record dispatch outcome", zap.Error(err))
		}
	}
	metrics.ObserveSubmission(kind, OutcomeAccepted)
	logger.Info("submission accepted", zap.Int("sinks", len(receipt.Results)), zap.Int("failed", failed(receipt.Results)))
	return receipt, nil
}

// verifyPhone checks business phones and replaces them with the normalized form.
func (s *Service) verifyPhone(ctx context.Context, sub lead.Submission) error {
	switch sub.(type) {
	case *lead.Business:
		res := s.deps.Phone.Validate(ctx, sub.Person().Phone, "")
		if !res.Valid {
			return &lead.PhoneInvalidError{Reason: res.Error}
		}
		sub.SetPhone(res.Formatted)
	case *lead.Property:
		// The field validator already enforced the display format.
	default:
		return fmt.Errorf("unsupported submission %T", sub)
	}
	return nil
}

// claim reports whether the lead should be dispatched. Ledger errors are
// logged and treated as a fresh lead.
func (s *Service) claim(ctx context.Context, sub lead.Submission, meta lead.Meta, logger *zap.Logger) bool {
	if s.deps.Ledger == nil {
		return true
	}
	fresh, err := s.deps.Ledger.Claim(ctx, sub.ID(), sub.Kind(), meta.ReceivedAt)
	if err != nil {
		logger.Warn("ledger claim failed; dispatching anyway", zap.Error(err))
		return true
	}
	return fresh
}

func failed(results []lead.DispatchResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
