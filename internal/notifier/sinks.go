package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes outcomes to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Deliver(_ context.Context, o Outcome) error {
	ev := s.logger.Info()
	if o.Code != CodeSucceeded {
		ev = s.logger.Warn()
	}
	ev.Str("reference", o.Reference).
		Str("code", string(o.Code)).
		Str("transaction_id", o.TransactionID).
		Str("device_code", o.DeviceCode).
		Int64("amount", o.Amount).
		Int64("tip_amount", o.TipAmount).
		Msg(o.Message)
	return nil
}

// Publisher appends events to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream, key, eventType string, data any) (string, error)
}

// StreamSink publishes outcomes to a stream for out-of-process consumers.
type StreamSink struct {
	publisher Publisher
	stream    string
}

func NewStreamSink(publisher Publisher, stream string) *StreamSink {
	return &StreamSink{publisher: publisher, stream: stream}
}

func (s *StreamSink) Deliver(ctx context.Context, o Outcome) error {
	_, err := s.publisher.Publish(ctx, s.stream, o.Reference, "terminal.payment."+string(o.Code), o)
	return err
}
