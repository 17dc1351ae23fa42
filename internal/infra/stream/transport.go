package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

const defaultReadLimit = 2 * 1024 * 1024

// Transport is one established connection.
type Transport interface {
	// Read blocks until the next message arrives, the peer closes, or ctx ends.
	Read(ctx context.Context) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer establishes transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) { return f(ctx, url) }

// WebsocketDialer dials websocket endpoints.
type WebsocketDialer struct {
	ReadLimit  int64
	HTTPHeader http.Header
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.HTTPHeader,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrTransportClosed
		}
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("read: remote closed with status %d: %w", status, ErrTransportClosed)
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

func (t *wsTransport) Ping(ctx context.Context) error {
	if err := t.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
