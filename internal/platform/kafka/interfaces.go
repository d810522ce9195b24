package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer writes one message at a time so each write gets its own span.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}
