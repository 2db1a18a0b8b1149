package models

import "time"

// EventKind classifies what a feed delivered.
type EventKind int

const (
	SubscriptionData EventKind = iota
	SubscriptionStatus
	Response
)

func (k EventKind) String() string {
	switch k {
	case SubscriptionData:
		return "subscription_data"
	case SubscriptionStatus:
		return "subscription_status"
	case Response:
		return "response"
	default:
		return "unknown"
	}
}

// FeedMessage is one market message: an instrument plus its raw field values.
// Time is the feed's event time, or receive time when the feed sent none.
type FeedMessage struct {
	Instrument string
	Fields     map[string]string
	Time       time.Time
}

// FeedEvent is what a feed collaborator hands to the core.
// Only SubscriptionData events carry Messages.
type FeedEvent struct {
	Kind          EventKind
	Messages      []FeedMessage
	Status        string
	CorrelationID string
	Payload       []byte
}
