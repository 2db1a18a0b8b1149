package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", "json", &buf)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Errorf("warn line missing: %s", out)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New("verbose", "json", &buf)

	l.Debug("debug line")
	l.Info("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Errorf("debug should be filtered by default info level")
	}
	if !strings.Contains(out, "info line") {
		t.Errorf("info line missing")
	}
}

func TestWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", "json", &buf).Component("monitor").With("symbol", "BTC_USDT")

	l.Info("tick")

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["component"] != "monitor" {
		t.Errorf("component = %v, want monitor", rec["component"])
	}
	if rec["symbol"] != "BTC_USDT" {
		t.Errorf("symbol = %v, want BTC_USDT", rec["symbol"])
	}
}

func TestEventTypedFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", "json", &buf)

	l.Event(zerolog.WarnLevel).Float64("dip_percent", 21.5).Msg("alert")

	if !strings.Contains(buf.String(), `"dip_percent":21.5`) {
		t.Errorf("typed field missing: %s", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing %s", "happens")
	l.Event(zerolog.InfoLevel).Msg("nothing")
	if l.With("k", "v") != nil {
		t.Error("With on nil logger should return nil")
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0h 0m 0s"},
		{59 * time.Second, "0h 0m 59s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{-time.Second, "0h 0m 0s"},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
