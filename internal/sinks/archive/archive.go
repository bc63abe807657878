// Package archive stores the raw envelope of every lead in a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

// SinkName is reported in dispatch results.
const SinkName = "archive"

var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Record is the archived document.
type Record struct {
	Kind       lead.Kind       `json:"kind"`
	Submission lead.Submission `json:"submission"`
	Meta       lead.Meta       `json:"meta"`
	ArchivedAt time.Time       `json:"archivedAt"`
}

// Sink writes one JSON object per lead.
type Sink struct {
	store  lead.BlobStore
	prefix string
	ids    lead.IDGenerator
	clock  lead.Clock
}

// New builds an archive sink. Objects are written under prefix.
func New(store lead.BlobStore, prefix string, ids lead.IDGenerator, clock lead.Clock) (*Sink, error) {
	if store == nil || ids == nil || clock == nil {
		return nil, fmt.Errorf("archive store, id generator, and clock are required")
	}
	return &Sink{store: store, prefix: strings.Trim(prefix, "/"), ids: ids, clock: clock}, nil
}

// Name implements dispatcher.Sink.
func (s *Sink) Name() string { return SinkName }

// Deliver writes the envelope to {prefix}/{kind}/{yyyy}/{mm}/{dd}/{leadId}.json.
func (s *Sink) Deliver(ctx context.Context, env lead.Envelope) error {
	if env.Submission == nil {
		return fmt.Errorf("envelope has no submission")
	}
	objectPath, err := s.ObjectPath(env)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Record{
		Kind:       env.Submission.Kind(),
		Submission: env.Submission,
		Meta:       env.Meta,
		ArchivedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	if _, err := s.store.PutObject(ctx, objectPath, "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("put archive object: %w", err)
	}
	return nil
}

// ObjectPath returns where env is archived. Lead ids that are not safe file
// names are replaced by a generated id.
func (s *Sink) ObjectPath(env lead.Envelope) (string, error) {
	name := env.Submission.ID()
	if !safeName.MatchString(name) || strings.Trim(name, ".") == "" {
		generated, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate archive name: %w", err)
		}
		name = generated
	}
	at := env.Meta.ReceivedAt
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()
	return path.Join(
		s.prefix,
		string(env.Submission.Kind()),
		at.Format("2006"), at.Format("01"), at.Format("02"),
		name+".json",
	), nil
}
