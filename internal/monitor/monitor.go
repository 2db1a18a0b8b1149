package monitor

import (
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/models"
)

type Config struct {
	Threshold   float64
	Symbols     []string
	Feed        string
	PriceFields []string
	Delimiter   string
	Alternates  []string
}

func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		Feed:       "gateio",
		Delimiter:  DefaultDelimiter,
		Alternates: DefaultAlternates,
	}
}

// AlertEmitter accepts alerts without blocking.
type AlertEmitter interface {
	Enqueue(event models.AlertEvent)
}

// Recorder receives per-tick diagnostics.
type Recorder interface {
	RecordTick(outcome string)
	RecordPrice(symbol string, price, dipPercent float64)
	RecordAlert(symbol string)
}

// Tick outcomes passed to Recorder.RecordTick.
const (
	TickApplied   = "applied"
	TickNoSymbol  = "no_symbol"
	TickNoPrice   = "no_price"
	TickFirstSeen = "first_seen"
)

type nopRecorder struct{}

func (nopRecorder) RecordTick(string)                    {}
func (nopRecorder) RecordPrice(string, float64, float64) {}
func (nopRecorder) RecordAlert(string)                   {}

type Monitor struct {
	registry    *Registry
	canon       Canonicalizer
	priceFields []string
	threshold   float64
	emitter     AlertEmitter
	recorder    Recorder
	log         *logger.Logger
	startedAt   time.Time
	now         func() time.Time
	newID       func() string
}

func New(config Config, emitter AlertEmitter, recorder Recorder, log *logger.Logger) *Monitor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	fields := config.PriceFields
	if len(fields) == 0 {
		fields = FieldsFor(config.Feed)
	}
	alternates := config.Alternates
	if alternates == nil {
		alternates = DefaultAlternates
	}

	m := &Monitor{
		registry:    NewRegistry(),
		canon:       NewCanonicalizer(config.Delimiter, alternates),
		priceFields: fields,
		emitter:     emitter,
		recorder:    recorder,
		log:         log.Component("monitor"),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	m.startedAt = m.now()
	m.Initialize(config.Threshold, config.Symbols)
	return m
}

// Initialize sets the threshold and eagerly registers a symbol universe.
// Call it before ingestion starts. Already-tracked symbols keep their state.
func (m *Monitor) Initialize(thresholdPercent float64, universe []string) {
	if thresholdPercent < 0 {
		m.log.Warn("Negative threshold %.2f ignored, using %.1f%%", thresholdPercent, DefaultThreshold)
		thresholdPercent = DefaultThreshold
	}
	m.threshold = thresholdPercent

	if len(universe) > 0 {
		added := m.RegisterSymbols(universe)
		m.log.Info("Registered %d symbols (%d new), threshold %.2f%%", len(universe), added, m.threshold)
	}
}

// RegisterSymbols canonicalizes ids and registers them.
func (m *Monitor) RegisterSymbols(ids []string) int {
	return m.registry.RegisterSymbols(m.canon.CanonicalAll(ids))
}

// Canonical exposes the symbol canonicalization used by the registry.
func (m *Monitor) Canonical(raw string) string {
	return m.canon.Canonical(raw)
}

// HandleEvent routes one feed event. Only subscription data touches state.
func (m *Monitor) HandleEvent(ev models.FeedEvent) {
	switch ev.Kind {
	case models.SubscriptionData:
		for _, msg := range ev.Messages {
			m.IngestTick(msg)
		}
	case models.SubscriptionStatus:
		m.log.Info("Subscription status: %s", ev.Status)
	case models.Response:
		m.log.Debug("Response %s: %d bytes", ev.CorrelationID, len(ev.Payload))
	default:
		m.log.Debug("Ignoring feed event of kind %s", ev.Kind)
	}
}

// IngestTick applies one market message. Messages without a symbol or a usable price are dropped.
func (m *Monitor) IngestTick(msg models.FeedMessage) {
	symbol := m.canon.Canonical(msg.Instrument)
	if symbol == "" {
		m.recorder.RecordTick(TickNoSymbol)
		return
	}

	price, ok := ExtractPrice(msg.Fields, m.priceFields)
	if !ok {
		m.recorder.RecordTick(TickNoPrice)
		return
	}

	at := msg.Time
	if at.IsZero() {
		at = m.now()
	}

	out, ok := m.registry.UpdateWith(symbol, price, at, m.evaluate)
	if !ok {
		m.recorder.RecordTick(TickNoPrice)
		return
	}

	if out.First {
		m.recorder.RecordTick(TickFirstSeen)
		m.log.Debug("Tracking %s from %.8f", symbol, price)
	} else {
		m.recorder.RecordTick(TickApplied)
	}
	m.recorder.RecordPrice(symbol, price, DipPercent(out.Updated))
}

// evaluate runs inside the registry's critical section so that alerts for one
// symbol are enqueued in update order.
func (m *Monitor) evaluate(out UpdateOutcome) {
	event, ok := Evaluate(out.Prior, out.Updated, m.threshold)
	if !ok {
		return
	}
	event.ID = m.newID()
	event.Symbol = out.Symbol
	event.EmittedAt = m.now()

	if m.emitter != nil {
		m.emitter.Enqueue(event)
	}
	m.recorder.RecordAlert(out.Symbol)
}

// State returns the current state for a raw or canonical symbol.
func (m *Monitor) State(symbol string) (models.PriceState, bool) {
	return m.registry.Get(m.canon.Canonical(symbol))
}

func (m *Monitor) Threshold() float64 {
	return m.threshold
}

// Snapshot returns a consistent copy of all tracked symbols with aggregate counts.
func (m *Monitor) Snapshot() models.StatsView {
	entries := m.registry.Snapshot()
	return models.NewStatsView(entries, m.threshold, m.startedAt, m.now())
}
