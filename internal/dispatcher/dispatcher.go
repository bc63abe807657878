// Package dispatcher fans a validated lead out to its delivery sinks.
//
// Business leads first go to the primary webhook, falling back to the CRM
// when the webhook is disabled or fails. Every lead then goes to the
// broadcast sinks concurrently. Dispatch never fails: each sink runs under
// its own timeout and panic guard, and its outcome is reported as a
// lead.DispatchResult.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/metrics"
)

// DefaultSinkTimeout bounds one sink delivery when Options leaves it unset.
const DefaultSinkTimeout = 10 * time.Second

// Sink is one external destination for leads.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, env lead.Envelope) error
}

// Sinks groups the destinations by role. Primary and CRM may be nil.
type Sinks struct {
	Primary   Sink
	CRM       Sink
	Broadcast []Sink
}

// Options controls dispatch behavior.
type Options struct {
	// PrimaryEnabled routes business leads to the primary webhook first.
	PrimaryEnabled bool
	SinkTimeout    time.Duration
}

// Dispatcher delivers envelopes to sinks.
type Dispatcher struct {
	sinks  Sinks
	opts   Options
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(sinks Sinks, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	return &Dispatcher{sinks: sinks, opts: opts, logger: logger}
}

// SinkNames lists the registered sinks in dispatch order.
func (d *Dispatcher) SinkNames() []string {
	var names []string
	if d.sinks.Primary != nil && d.opts.PrimaryEnabled {
		names = append(names, d.sinks.Primary.Name())
	}
	if d.sinks.CRM != nil {
		names = append(names, d.sinks.CRM.Name())
	}
	for _, s := range d.sinks.Broadcast {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch delivers env and returns one result per attempted sink. Results
// from the business chain come first, followed by the broadcast sinks in
// registration order.
func (d *Dispatcher) Dispatch(ctx context.Context, env lead.Envelope) []lead.DispatchResult {
	if env.Submission == nil {
		d.logger.Error("dispatch called without a submission")
		return nil
	}
	logger := d.logger.With(
		zap.String("lead_id", env.Submission.ID()),
		zap.String("kind", string(env.Submission.Kind())),
	)

	var (
		wg        sync.WaitGroup
		chain     []lead.DispatchResult
		broadcast = make([]lead.DispatchResult, len(d.sinks.Broadcast))
	)

	switch env.Submission.(type) {
	case *lead.Business:
		wg.Add(1)
		go func() {
			defer wg.Done()
			chain = d.businessChain(ctx, env, logger)
		}()
	case *lead.Property:
		// Property leads only go to the broadcast sinks.
	default:
		logger.Error("unknown submission variant", zap.String("type", fmt.Sprintf("%T", env.Submission)))
	}

	for i, sink := range d.sinks.Broadcast {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			broadcast[i] = d.deliver(ctx, sink, env, logger)
		}(i, sink)
	}
	wg.Wait()

	return append(chain, broadcast...)
}

func (d *Dispatcher) businessChain(ctx context.Context, env lead.Envelope, logger *zap.Logger) []lead.DispatchResult {
	var results []lead.DispatchResult
	if d.opts.PrimaryEnabled && d.sinks.Primary != nil {
		res := d.deliver(ctx, d.sinks.Primary, env, logger)
		results = append(results, res)
		if res.Success {
			return results
		}
		logger.Warn("primary webhook failed; falling back to CRM")
	}
	if d.sinks.CRM == nil {
		if len(results) > 0 {
			logger.Error("business lead not delivered: primary failed and no CRM is configured")
		}
		return results
	}
	res := d.deliver(ctx, d.sinks.CRM, env, logger)
	results = append(results, res)
	if !res.Success && len(results) > 1 {
		logger.Error("business lead not delivered to primary webhook or CRM")
	}
	return results
}

// errPanic marks a sink that panicked.
var errPanic = errors.New("sink panicked")

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, env lead.Envelope, logger *zap.Logger) lead.DispatchResult {
	name := sink.Name()
	start := time.Now()

	sinkCtx, cancel := context.WithTimeout(ctx, d.opts.SinkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", errPanic, r)
			}
		}()
		done <- sink.Deliver(sinkCtx, env)
	}()

	var err error
	select {
	case err = <-done:
	case <-sinkCtx.Done():
		err = fmt.Errorf("delivery timed out: %w", sinkCtx.Err())
	}
	duration := time.Since(start)
	metrics.ObserveSinkDelivery(name, err == nil, duration)

	if err != nil {
		sinkErr := &lead.SinkError{Sink: name, Err: err}
		logger.Warn("sink delivery failed",
			zap.String("sink", name),
			zap.Duration("duration", duration),
			zap.Error(sinkErr),
		)
		return lead.DispatchResult{Sink: name, Success: false, Error: err.Error()}
	}
	logger.Info("sink delivery succeeded", zap.String("sink", name), zap.Duration("duration", duration))
	return lead.DispatchResult{Sink: name, Success: true}
}
