// Package audiostream owns the live-listen media session: a single websocket
// bound to the active call's listen URL, surfacing a volume level for the UI.
package audiostream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roofline/pkg/metrics"
)

// Dialer opens a listen socket. Split out so tests can stub the network.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is the subset of a websocket connection the controller needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type wsDialer struct {
	handshakeTimeout time.Duration
}

// NewWebsocketDialer returns the production Dialer backed by gorilla/websocket.
func NewWebsocketDialer() Dialer {
	return &wsDialer{handshakeTimeout: 10 * time.Second}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wd := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := wd.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("audiostream: dial %s: %w", url, err)
	}
	return conn, nil
}

// Controller maintains at most one live connection. EnsureConnected with the
// current URL is a no-op; with a different URL it tears the old session down
// first. Resources are released on every reader exit path.
type Controller struct {
	dialer Dialer
	log    *slog.Logger

	mu      sync.Mutex
	conn    Conn
	url     string
	gen     int
	dialing bool
	volume  float64
}

func NewController(dialer Dialer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{dialer: dialer, log: log}
}

// EnsureConnected makes the controller's single session track url. Connect is
// single-flight: the caller that claims the url dials alone, and a concurrent
// connect for the same url is a no-op while that dial is in flight.
func (c *Controller) EnsureConnected(ctx context.Context, url string) error {
	if url == "" {
		c.Disconnect()
		return nil
	}

	c.mu.Lock()
	if c.url == url && (c.conn != nil || c.dialing) {
		c.mu.Unlock()
		return nil
	}
	// URL changed (or first connect): claim the url and a new generation
	// before the dial so no second socket can come up alongside this one.
	old := c.conn
	c.conn = nil
	c.url = url
	c.volume = 0
	c.dialing = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	conn, err := c.dialer.Dial(ctx, url)

	c.mu.Lock()
	if c.gen != gen {
		// A disconnect or a newer connect superseded this dial.
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return nil
	}
	c.dialing = false
	if err != nil {
		c.url = ""
		c.mu.Unlock()
		return err
	}
	c.conn = conn
	c.mu.Unlock()

	metrics.AudioConnects.Inc()
	go c.readLoop(conn, gen)
	return nil
}

// Disconnect tears down the current session, if any, and abandons an
// in-flight dial. Safe to call repeatedly.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.url = ""
	c.volume = 0
	c.dialing = false
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// VolumeLevel is the most recent normalized level in [0,1]; 0 when idle.
func (c *Controller) VolumeLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// readLoop drains audio frames and tracks volume until the socket dies. The
// generation check keeps a stale loop from clobbering a newer session's state.
func (c *Controller) readLoop(conn Conn, gen int) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("audiostream reader panicked", "panic", r)
		}
		_ = conn.Close()
		c.mu.Lock()
		if c.gen == gen && c.conn != nil {
			c.conn = nil
			c.url = ""
			c.volume = 0
		}
		c.mu.Unlock()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen
			c.mu.Unlock()
			if !stale {
				c.log.Debug("audiostream closed", "err", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		v := rmsLevel(data)
		c.mu.Lock()
		if c.gen == gen {
			c.volume = v
		}
		c.mu.Unlock()
	}
}

// rmsLevel computes a normalized loudness for a 16-bit little-endian PCM frame.
func rmsLevel(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		s := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		f := float64(s) / 32768.0
		sum += f * f
	}
	v := math.Sqrt(sum / float64(n))
	if v > 1 {
		v = 1
	}
	return v
}
