package monitor

import (
	"math"
	"strconv"
	"strings"
)

// PriceFields lists, per feed, the payload fields that may carry a price,
// highest priority first. Supporting a new feed means adding a row here.
var PriceFields = map[string][]string{
	"gateio": {"last", "highest_bid", "lowest_ask"},
	"generic": {
		"LAST_PRICE", "MARKET_PRICE", "BID_PRICE", "ASK_PRICE",
		"p", "last", "close", "price",
	},
}

// FieldsFor returns the price field list for feed, falling back to "generic".
func FieldsFor(feed string) []string {
	if fields, ok := PriceFields[strings.ToLower(feed)]; ok {
		return fields
	}
	return PriceFields["generic"]
}

// ExtractPrice returns the first candidate field whose value parses as a
// positive finite number. Malformed values count as absent.
func ExtractPrice(fields map[string]string, candidates []string) (float64, bool) {
	if len(fields) == 0 {
		return 0, false
	}
	for _, name := range candidates {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		return price, true
	}
	return 0, false
}
