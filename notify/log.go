package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes messages to a zerolog logger. Used when no broker is
// configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.Info().
		Str("event_id", msg.ID).
		Str("event", msg.Type).
		Str("booking_id", msg.BookingID).
		Str("booking_number", msg.BookingNumber).
		Str("security", msg.SecurityID).
		Time("at", msg.At).
		Fields(msg.Payload).
		Msg("event")
	return nil
}
