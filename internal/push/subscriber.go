package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Invalidator forces a reload of the item with the given path
type Invalidator interface {
	Invalidate(path string) bool
}

// InvalidateOn returns an event handler that invalidates the item named by
// every thumbnail_ready event
func InvalidateOn(inv Invalidator) func(Event) {
	return func(ev Event) {
		if ev.Type != EventThumbnailReady || ev.Path == "" {
			return
		}
		if inv.Invalidate(ev.Path) {
			log.Debugf("Reloading %s after push (%s)", ev.Path, ev.Status)
		}
	}
}

// WebSocketURL derives the push endpoint from the gallery server's base URL
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL has no host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + Path
	u.RawQuery = ""
	return u.String(), nil
}

// Subscriber keeps a websocket connection to the push endpoint open and
// hands every decoded event to OnEvent. Dropped connections are redialled
// with exponential backoff.
type Subscriber struct {
	URL        string
	Dialer     *websocket.Dialer
	OnEvent    func(Event)
	MinBackoff time.Duration
	MaxBackoff time.Duration

	received  atomic.Uint64
	connected atomic.Bool
}

// NewSubscriber creates a subscriber for the given websocket URL
func NewSubscriber(wsURL string, onEvent func(Event)) *Subscriber {
	return &Subscriber{
		URL:        wsURL,
		Dialer:     websocket.DefaultDialer,
		OnEvent:    onEvent,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Run connects and reads events until ctx is cancelled, which is the only
// way it returns.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.MinBackoff
	for {
		start := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// a long-lived session resets the backoff
		if time.Since(start) > s.MaxBackoff {
			backoff = s.MinBackoff
		}
		log.Warnf("Push connection lost (%v), reconnecting in %s", err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

// session runs one connection until it fails
func (s *Subscriber) session(ctx context.Context) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push endpoint: %w", err)
	}
	s.connected.Store(true)
	defer s.connected.Store(false)
	log.Infof("Subscribed to thumbnail events at %s", s.URL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read push event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warnf("Ignoring malformed push event: %v", err)
			continue
		}
		s.received.Add(1)
		if s.OnEvent != nil {
			s.OnEvent(ev)
		}
	}
}

// Received returns the number of events decoded so far
func (s *Subscriber) Received() uint64 {
	return s.received.Load()
}

// Connected reports whether a connection is currently open
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}
