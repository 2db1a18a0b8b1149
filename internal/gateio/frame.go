package gateio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/dipwatch/internal/models"
)

// instrumentKeys are the result fields that may carry the pair id, in order.
var instrumentKeys = []string{"currency_pair", "contract", "s", "symbol"}

type frame struct {
	Time    int64           `json:"time"`
	TimeMs  int64           `json:"time_ms"`
	ID      *int64          `json:"id"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Error   *frameError     `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type frameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeFrame classifies one server frame. ok is false for frames that carry
// nothing for the monitor, such as pongs.
func decodeFrame(data []byte) (models.FeedEvent, bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return models.FeedEvent{}, false, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case f.Event == "update":
		msgs, err := flattenResult(f.Result, f.timestamp())
		if err != nil {
			return models.FeedEvent{}, false, err
		}
		return models.FeedEvent{Kind: models.SubscriptionData, Messages: msgs}, true, nil

	case f.Event == "subscribe" || f.Event == "unsubscribe":
		return models.FeedEvent{
			Kind:          models.SubscriptionStatus,
			Status:        f.status(),
			CorrelationID: f.correlationID(),
		}, true, nil

	case strings.HasSuffix(f.Channel, ".pong"):
		return models.FeedEvent{}, false, nil

	case f.ID != nil:
		return models.FeedEvent{
			Kind:          models.Response,
			CorrelationID: f.correlationID(),
			Payload:       []byte(f.Result),
		}, true, nil
	}

	return models.FeedEvent{}, false, nil
}

func (f frame) timestamp() time.Time {
	switch {
	case f.TimeMs > 0:
		return time.UnixMilli(f.TimeMs).UTC()
	case f.Time > 0:
		return time.Unix(f.Time, 0).UTC()
	}
	return time.Time{}
}

func (f frame) correlationID() string {
	if f.ID == nil {
		return ""
	}
	return strconv.FormatInt(*f.ID, 10)
}

func (f frame) status() string {
	if f.Error != nil {
		return fmt.Sprintf("%s %s: error %d %s", f.Event, f.Channel, f.Error.Code, f.Error.Message)
	}
	var result struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(f.Result, &result)
	if result.Status == "" {
		result.Status = "unknown"
	}
	return fmt.Sprintf("%s %s: %s", f.Event, f.Channel, result.Status)
}

// flattenResult turns an update result (one object or an array of objects)
// into feed messages whose fields are rendered as strings.
func flattenResult(raw json.RawMessage, at time.Time) ([]models.FeedMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("update without result")
	}

	var objects []map[string]any
	if raw[0] == '[' {
		if err := decodeNumbers(raw, &objects); err != nil {
			return nil, fmt.Errorf("decode result array: %w", err)
		}
	} else {
		var obj map[string]any
		if err := decodeNumbers(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		objects = []map[string]any{obj}
	}

	msgs := make([]models.FeedMessage, 0, len(objects))
	for _, obj := range objects {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			if s, ok := render(v); ok {
				fields[k] = s
			}
		}
		msg := models.FeedMessage{Fields: fields, Time: at}
		for _, key := range instrumentKeys {
			if id := fields[key]; id != "" {
				msg.Instrument = id
				break
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func render(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
