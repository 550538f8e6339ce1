// Package stream ingests live price updates over a websocket and folds them
// into the rolling store between polling ticks. Polling stays the source of
// record; stream samples only densify the window.
package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// No sample for this long while connected means the feed is dead air.
	staleThreshold = 5 * time.Minute
)

// CoinResolver maps a stream update back to a watched coin.
type CoinResolver interface {
	GetByChainAddress(chain, tokenAddress string) (*domain.Coin, error)
}

// TokenSource lists the coins the stream should subscribe to.
type TokenSource interface {
	ListActive() ([]domain.Coin, error)
}

// SampleWriter appends accepted samples into the rolling store.
type SampleWriter interface {
	Append(coinID int64, sample domain.RollingDataPoint) error
}

// priceMessage is one update from the stream.
//
//	{"type":"price","chain":"solana","address":"EPjF...","price":1.23,"marketCap":500000,"volume24h":12345,"ts":1750000000}
type priceMessage struct {
	Type           string   `json:"type"`
	Chain          string   `json:"chain"`
	Address        string   `json:"address"`
	Price          float64  `json:"price"`
	MarketCap      *float64 `json:"marketCap,omitempty"`
	Volume24h      float64  `json:"volume24h"`
	PriceChange24h float64  `json:"priceChange24h"`
	Timestamp      int64    `json:"ts"`
}

// subscribeMessage tells the stream which tokens to send updates for.
type subscribeMessage struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

// Client maintains the websocket connection and the read loop.
type Client struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	coins     CoinResolver
	tokens    TokenSource
	store     SampleWriter
	validator *dexscreener.Validator
	log       zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Reconnect pacing; fields so tests can shrink them.
	baseDelay time.Duration
	maxDelay  time.Duration

	ingested     atomic.Int64
	lastSampleMu sync.RWMutex
	lastSample   time.Time
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// Required because Cloudflare negotiates HTTP/2 via TLS ALPN, but the
// websocket upgrade handshake needs HTTP/1.1.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewClient creates a price stream client. Nothing connects until Start.
func NewClient(url string, coins CoinResolver, tokens TokenSource, store SampleWriter, validator *dexscreener.Validator, log zerolog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: createHTTP1Client(),
		coins:      coins,
		tokens:     tokens,
		store:      store,
		validator:  validator,
		log:        log.With().Str("component", "price_stream").Logger(),
		stopChan:   make(chan struct{}),
		baseDelay:  baseReconnectDelay,
		maxDelay:   maxReconnectDelay,
	}
}

// Start connects and launches the read loop. A failed first connection is not
// fatal; the reconnect loop keeps trying in the background.
func (c *Client) Start() error {
	c.log.Info().Str("url", c.url).Msg("Starting price stream client")

	if err := c.Connect(); err != nil {
		c.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go c.reconnectLoop()
		return err
	}

	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readMessages(ctx)

	return nil
}

// Stop shuts the client down. Safe to call more than once.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.log.Info().Msg("Stopping price stream client")
	close(c.stopChan)
	return c.Disconnect()
}

// Connect dials the stream and subscribes to the current watchlist.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	if err := c.subscribe(connCtx, conn); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true

	c.log.Info().Msg("Connected to price stream")
	return nil
}

// Disconnect closes the connection and cancels the read loop.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false

	if err != nil {
		return fmt.Errorf("error closing stream connection: %w", err)
	}
	return nil
}

// Resubscribe resends the token list on the live connection. Called when the
// watchlist changes; a no-op while disconnected since the next connect
// subscribes fresh.
func (c *Client) Resubscribe() error {
	c.mu.RLock()
	conn := c.conn
	ctx := c.connCtx
	c.mu.RUnlock()

	if conn == nil {
		return nil
	}
	return c.subscribe(ctx, conn)
}

// subscribe sends the current active token list.
func (c *Client) subscribe(ctx context.Context, conn *websocket.Conn) error {
	coins, err := c.tokens.ListActive()
	if err != nil {
		return fmt.Errorf("failed to load subscription list: %w", err)
	}

	keys := make([]string, 0, len(coins))
	for _, coin := range coins {
		keys = append(keys, fmt.Sprintf("%s:%s", coin.Chain, coin.TokenAddress))
	}

	data, err := json.Marshal(subscribeMessage{Op: "subscribe", Tokens: keys})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}

	c.log.Info().Int("tokens", len(keys)).Msg("Subscribed to price stream")
	return nil
}

// readMessages consumes stream messages until the connection dies.
func (c *Client) readMessages(ctx context.Context) {
	defer func() {
		c.log.Info().Msg("Stream read loop stopped")
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				c.log.Info().Int("status", int(closeStatus)).Msg("Stream closed normally")
			case ctx.Err() != nil:
				c.log.Debug().Msg("Stream read cancelled")
			default:
				c.log.Error().Err(err).Msg("Stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := c.handleMessage(message); err != nil {
			// Keep reading; one bad message must not kill the stream.
			c.log.Error().Err(err).Msg("Failed to handle stream message")
		}
	}
}

// handleMessage validates one price update and appends it as a sample.
// Updates for unwatched tokens are dropped silently: subscriptions can lag
// coin removal.
func (c *Client) handleMessage(message []byte) error {
	var msg priceMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("failed to parse stream message: %w", err)
	}

	if msg.Type != "price" {
		c.log.Debug().Str("type", msg.Type).Msg("Ignoring non-price message")
		return nil
	}

	coin, err := c.coins.GetByChainAddress(msg.Chain, msg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve %s:%s: %w", msg.Chain, msg.Address, err)
	}
	if coin == nil || !coin.IsActive {
		return nil
	}

	pair := &dexscreener.PairInfo{
		ChainID:          msg.Chain,
		BaseTokenAddress: msg.Address,
		Symbol:           coin.Symbol,
		Price:            msg.Price,
		MarketCap:        msg.MarketCap,
		Volume24h:        msg.Volume24h,
		PriceChange24h:   msg.PriceChange24h,
		Meta: dexscreener.FetchMeta{
			FetchedAt: msg.Timestamp,
			Source:    "stream",
		},
	}

	result := c.validator.Validate(pair)
	if !result.Valid {
		c.log.Debug().Str("token", pair.Key()).Str("reason", result.Reason).Msg("Dropped stream sample")
		return nil
	}
	if result.Anomalous {
		// Same policy as polling: anomalous rows never become samples.
		c.log.Warn().Str("token", pair.Key()).Str("reason", result.AnomalyReason).Msg("Dropped anomalous stream sample")
		return nil
	}

	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UTC().Unix()
	}

	sample := domain.RollingDataPoint{
		CoinID:    coin.ID,
		Timestamp: ts,
		Price:     msg.Price,
		Volume:    msg.Volume24h,
		MarketCap: msg.MarketCap,
	}

	if err := c.store.Append(coin.ID, sample); err != nil {
		return fmt.Errorf("failed to append stream sample for %s: %w", coin.Symbol, err)
	}

	c.ingested.Add(1)
	c.lastSampleMu.Lock()
	c.lastSample = time.Now()
	c.lastSampleMu.Unlock()

	return nil
}

// reconnectLoop retries the connection with exponential backoff. Past the
// attempt cap it keeps trying at the max delay; a supplementary feed should
// never give up while the process lives.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		attempt++
		delay := c.calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to price stream")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Still reconnecting to price stream")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.Connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			continue
		}

		c.log.Info().Int("attempt", attempt).Msg("Reconnected to price stream")

		c.mu.RLock()
		ctx := c.connCtx
		c.mu.RUnlock()
		go c.readMessages(ctx)
		return
	}
}

// calculateBackoff returns baseDelay * 2^(attempt-1), capped at maxDelay.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SamplesIngested returns how many samples the stream has appended.
func (c *Client) SamplesIngested() int64 {
	return c.ingested.Load()
}

// IsStale reports whether a live connection has gone quiet. A disconnected
// client is not stale; the reconnect loop owns that condition.
func (c *Client) IsStale() bool {
	if !c.IsConnected() {
		return false
	}

	c.lastSampleMu.RLock()
	defer c.lastSampleMu.RUnlock()

	if c.lastSample.IsZero() {
		return false
	}
	return time.Since(c.lastSample) > staleThreshold
}
