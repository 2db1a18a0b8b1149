// Package gateio connects to the Gate.io v4 spot API: REST pair discovery and
// the WebSocket ticker stream that feeds the monitor.
package gateio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/models"
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	WSURL          string
	RESTURL        string
	Channel        string
	SubscribeBatch int
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	Timeout        time.Duration
	MaxRetries     int
	Log            *logger.Logger
}

// Client provides access to the Gate.io spot API
type Client struct {
	wsURL          string
	restURL        string
	channel        string
	batch          int
	pingInterval   time.Duration
	reconnectDelay time.Duration
	maxRetries     int
	retryDelay     time.Duration

	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *logger.Logger
	nextID     atomic.Int64
}

// CurrencyPair is one entry of GET /spot/currency_pairs.
type CurrencyPair struct {
	ID          string `json:"id"`
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	TradeStatus string `json:"trade_status"`
}

// NewClient creates a new Gate.io client
func NewClient(opts Options) *Client {
	if opts.WSURL == "" {
		opts.WSURL = "wss://api.gateio.ws/ws/v4/"
	}
	if opts.RESTURL == "" {
		opts.RESTURL = "https://api.gateio.ws/api/v4"
	}
	if opts.Channel == "" {
		opts.Channel = "spot.tickers"
	}
	if opts.SubscribeBatch <= 0 {
		opts.SubscribeBatch = 100
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &Client{
		wsURL:          opts.WSURL,
		restURL:        strings.TrimRight(opts.RESTURL, "/"),
		channel:        opts.Channel,
		batch:          opts.SubscribeBatch,
		pingInterval:   opts.PingInterval,
		reconnectDelay: opts.ReconnectDelay,
		maxRetries:     opts.MaxRetries,
		retryDelay:     time.Second,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.Timeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		log: opts.Log.Component("gateio"),
	}
}

// FetchPairs returns the ids of tradable pairs quoted in quote, sorted.
// An empty quote returns every tradable pair.
func (c *Client) FetchPairs(ctx context.Context, quote string) ([]string, error) {
	resp, err := c.doRequest(ctx, c.restURL+"/spot/currency_pairs")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch currency pairs: %w", err)
	}
	defer resp.Body.Close()

	var pairs []CurrencyPair
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("failed to decode currency pairs: %w", err)
	}

	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.ID == "" || p.TradeStatus != "tradable" {
			continue
		}
		if quote != "" && !strings.EqualFold(p.Quote, quote) {
			continue
		}
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)

	c.log.Info("Discovered %d tradable pairs (quote %q) out of %d", len(ids), quote, len(pairs))
	return ids, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, fmt.Errorf("request rejected: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if err := c.wait(ctx, time.Duration(i+1)*c.retryDelay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run streams feed events for symbols into out until ctx is cancelled,
// reconnecting after every session failure. It never closes out.
func (c *Client) Run(ctx context.Context, symbols []string, out chan<- models.FeedEvent) error {
	if len(symbols) == 0 {
		return errors.New("no symbols to subscribe")
	}

	for {
		err := c.session(ctx, symbols, out)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("Feed session ended: %v; reconnecting in %s", err, c.reconnectDelay)
		if err := c.wait(ctx, c.reconnectDelay); err != nil {
			return nil
		}
	}
}

// session runs one connection from dial to the first read failure.
func (c *Client) session(ctx context.Context, symbols []string, out chan<- models.FeedEvent) error {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.log.Info("Connected to %s", c.wsURL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := c.subscribe(conn, symbols); err != nil {
		return err
	}

	// the pinger is the only writer once subscriptions are sent
	go c.pingLoop(conn, done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		ev, ok, err := decodeFrame(data)
		if err != nil {
			c.log.Debug("Skipping undecodable frame: %v", err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type request struct {
	Time    int64    `json:"time"`
	ID      int64    `json:"id"`
	Channel string   `json:"channel"`
	Event   string   `json:"event,omitempty"`
	Payload []string `json:"payload,omitempty"`
}

func (c *Client) subscribe(conn *websocket.Conn, symbols []string) error {
	for start := 0; start < len(symbols); start += c.batch {
		end := start + c.batch
		if end > len(symbols) {
			end = len(symbols)
		}
		req := request{
			Time:    time.Now().Unix(),
			ID:      c.nextID.Add(1),
			Channel: c.channel,
			Event:   "subscribe",
			Payload: symbols[start:end],
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe batch %d-%d: %w", start, end, err)
		}
	}
	c.log.Info("Subscribed to %s for %d pairs", c.channel, len(symbols))
	return nil
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	pingChannel := strings.SplitN(c.channel, ".", 2)[0] + ".ping"
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			req := request{Time: time.Now().Unix(), ID: c.nextID.Add(1), Channel: pingChannel}
			if err := conn.WriteJSON(req); err != nil {
				c.log.Debug("Ping failed: %v", err)
				return
			}
		}
	}
}
