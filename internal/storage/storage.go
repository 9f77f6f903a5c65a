package storage

import (
	"context"
	"errors"

	"liquidityEngine/internal/model"
)

// EventSink receives committed engine events.
type EventSink interface {
	PutEvents(ctx context.Context, events []model.EngineEvent) error
}

// MultiSink fans events out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) PutEvents(ctx context.Context, events []model.EngineEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutEvents(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) PutEvents(context.Context, []model.EngineEvent) error { return nil }
