package events

import (
	"context"
	"log"

	"github.com/asofdb/asof/internal/core/domain"
)

// LogPublisher is the default change-feed sink when no webhook is configured:
// events are acknowledged after being written to the process log.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	log.Printf("change feed publish topic=%s event_id=%s event_type=%s record=%s/%s", topic, event.EventID, event.EventType, event.Collection, event.RecordID)
	return nil
}
