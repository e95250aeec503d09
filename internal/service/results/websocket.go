package results

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

const maxFrameBytes = 1 << 20

// NewWebSocketSubscriber dials {baseURL}?topic={topic} per job. Each text
// frame carries one fragment.
func NewWebSocketSubscriber(baseURL string, opts ...Option) (*Subscriber, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("websocket url must use ws or wss, got %q", u.Scheme)
	}

	dial := func(ctx context.Context, _ string, topic string) (source, error) {
		target := *u
		q := target.Query()
		q.Set("topic", topic)
		target.RawQuery = q.Encode()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("websocket connect: %w", err)
		}
		conn.SetReadLimit(maxFrameBytes)

		src := &wsSource{conn: conn, stop: make(chan struct{})}
		// ReadMessage ignores ctx; closing the conn unblocks it
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-src.stop:
			}
		}()
		return src, nil
	}
	return newSubscriber("websocket", dial, opts...), nil
}

type wsSource struct {
	conn *websocket.Conn
	stop chan struct{}
	once sync.Once
}

func (w *wsSource) next(ctx context.Context) ([]byte, error) {
	for {
		mt, b, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (w *wsSource) close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = w.conn.Close()
	})
	return err
}
