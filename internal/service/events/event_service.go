package events

import (
	"context"
	"fmt"

	"github.com/Domenick1991/checkin/internal/domain"
)

type EventUseCase interface {
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
}

// EventSource is the ticketing API's event lookup.
type EventSource interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
}

type EventCache interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	SetEvent(ctx context.Context, event *domain.Event) error
}

type EventService struct {
	source EventSource
	cache  EventCache
}

// NewEventService accepts a nil cache; lookups then always hit the source.
func NewEventService(source EventSource, cache EventCache) *EventService {
	return &EventService{source: source, cache: cache}
}

func (s *EventService) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid event id %d", id)
	}

	if s.cache != nil {
		if cached, err := s.cache.GetEvent(ctx, id); err == nil && cached != nil {
			return cached, nil
		}
	}

	event, err := s.source.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetEvent(ctx, event)
	}
	return event, nil
}

var _ EventUseCase = (*EventService)(nil)
