// Package storage journals committed snapshots and finished intents.
package storage

import (
	"context"
	"errors"

	"delex/internal/model"
)

// Sink receives journal records.
type Sink interface {
	PutSnapshot(ctx context.Context, rec model.SnapshotRecord) error
	PutIntent(ctx context.Context, rec model.IntentRecord) error
}

// Fanout writes every record to each sink, continuing past failures.
type Fanout []Sink

func (f Fanout) PutSnapshot(ctx context.Context, rec model.SnapshotRecord) error {
	var errs []error
	for _, s := range f {
		if err := s.PutSnapshot(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) PutIntent(ctx context.Context, rec model.IntentRecord) error {
	var errs []error
	for _, s := range f {
		if err := s.PutIntent(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
