// Package notify fans drawdown alerts out to delivery sinks and renders periodic stats.
package notify

import (
	"context"
	"errors"

	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/models"
	"github.com/rs/zerolog"
)

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Emit(ctx context.Context, event models.AlertEvent) error
}

// ErrSkipped is wrapped by sinks that deliberately did not deliver an alert,
// for example because of a rate limit. The dispatcher counts it as a skip, not a failure.
var ErrSkipped = errors.New("alert skipped")

// DeliveryRecorder observes dispatcher outcomes.
type DeliveryRecorder interface {
	RecordDelivered(sink string)
	RecordSkipped(sink string)
	RecordSinkError(sink string)
	RecordDropped(reason string)
}

// Drop reasons passed to DeliveryRecorder.RecordDropped.
const (
	DropQueueFull = "queue_full"
	DropStopped   = "stopped"
	DropDrain     = "drain_timeout"
)

type nopDeliveryRecorder struct{}

func (nopDeliveryRecorder) RecordDelivered(string) {}
func (nopDeliveryRecorder) RecordSkipped(string)   {}
func (nopDeliveryRecorder) RecordSinkError(string) {}
func (nopDeliveryRecorder) RecordDropped(string)   {}

// LogSink writes every alert as a structured warn-level log line.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.Component("alerts")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, event models.AlertEvent) error {
	s.log.Event(zerolog.WarnLevel).
		Str("alert_id", event.ID).
		Str("symbol", event.Symbol).
		Float64("current_price", event.CurrentPrice).
		Float64("max_price", event.MaxPrice).
		Float64("dip_percent", event.DipPercent).
		Float64("seconds_since_max", event.SecondsSinceMax).
		Uint64("update_count", event.UpdateCount).
		Float64("threshold_percent", event.Threshold).
		Msgf("DIP ALERT %s down %.2f%% from high", event.Symbol, event.DipPercent)
	return nil
}

// AlertJournal is the storage side of JournalSink.
type AlertJournal interface {
	AddAlert(ctx context.Context, alert *models.AlertEvent) error
}

// JournalSink records alerts in the alert journal.
type JournalSink struct {
	journal AlertJournal
}

func NewJournalSink(journal AlertJournal) *JournalSink {
	return &JournalSink{journal: journal}
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Emit(ctx context.Context, event models.AlertEvent) error {
	return s.journal.AddAlert(ctx, &event)
}
