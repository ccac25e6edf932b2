package engine

import (
	"context"
	"fmt"
	"strings"
)

// Sequence namespaces.
const (
	bookingSequencePrefix = "booking"
	clientSequenceKey     = "client"
)

// Sequencer issues unique, strictly increasing integers per key. Uniqueness
// comes from the store's atomic increment; nothing is derived from clocks or
// randomness.
type Sequencer struct {
	store SequenceStore
}

// NewSequencer returns a generator backed by store.
func NewSequencer(store SequenceStore) *Sequencer {
	return &Sequencer{store: store}
}

// Next returns the next value for key.
func (s *Sequencer) Next(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, Invalid("key", "is required")
	}
	n, err := s.store.NextSequence(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %q: %w", key, err)
	}
	return n, nil
}

// BookingSequenceKey scopes booking numbers to a period, e.g. "booking:2026".
func BookingSequenceKey(period string) string {
	return bookingSequencePrefix + ":" + period
}

// ClientSequenceKey is the single namespace for client codes.
func ClientSequenceKey() string {
	return clientSequenceKey
}

// FormatBookingNumber renders BK-2026-00001 style numbers.
func FormatBookingNumber(prefix, period string, n int64) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, period, n)
}

// FormatClientCode renders CL-00001 style codes.
func FormatClientCode(prefix string, n int64) string {
	return fmt.Sprintf("%s-%05d", prefix, n)
}
