package dispatch

import (
	"context"
	"errors"
	"log/slog"
)

// Sink posts text to a chat channel. Implementations return a PermanentError for
// failures that retrying cannot fix; every other error is treated as transient.
type Sink interface {
	Post(ctx context.Context, channelID, text string) error
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// LogSink only logs messages. It stands in for the chat platform when no bot
// token is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Post(ctx context.Context, channelID, text string) error {
	s.logger.InfoContext(ctx, "dry-run post", "channel_id", channelID, "text", text)
	return nil
}
