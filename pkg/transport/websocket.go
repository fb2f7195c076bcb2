package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/avereha/podcomm/pkg/message"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one exchange when the context has no deadline.
const DefaultTimeout = 10 * time.Second

// RemoteError is a failure reported by the far end instead of a reply, for
// example a pod that dropped the command.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// ErrClosed is returned by Exchange after Close.
var ErrClosed = errors.New("transport closed")

// WebSocket exchanges wrapped messages over a websocket connection, one
// binary websocket message per frame. Failures the far end reports arrive as
// text messages.
//
// A connection that failed, timed out or was interrupted by a cancelled
// context cannot be read again; it is dropped and the next Exchange dials a
// new one, restarting the sealing counter.
type WebSocket struct {
	mu      sync.Mutex
	url     string
	dialer  websocket.Dialer
	conn    *websocket.Conn
	closed  bool
	sealer  *Sealer
	counter uint64
	timeout time.Duration
	log     *log.Entry
}

// Option configures a WebSocket.
type Option func(*WebSocket)

// WithSealer seals every frame with s.
func WithSealer(s *Sealer) Option {
	return func(w *WebSocket) { w.sealer = s }
}

// WithTimeout sets the exchange timeout used when the context has no
// deadline.
func WithTimeout(d time.Duration) Option {
	return func(w *WebSocket) { w.timeout = d }
}

// Dial connects to a ws:// or wss:// URL.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*WebSocket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	w := &WebSocket{
		url:     rawURL,
		dialer:  websocket.Dialer{HandshakeTimeout: DefaultTimeout},
		timeout: DefaultTimeout,
		log:     log.WithField("transport", u.Host),
	}
	for _, o := range opts {
		o(w)
	}
	if err := w.connect(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WebSocket) connect(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	w.conn = conn
	w.counter = 0
	w.log.Infof("connected to %s", w.url)
	return nil
}

// drop closes a connection that can no longer be used.
func (w *WebSocket) drop(cause error) {
	w.log.Warnf("dropping connection: %s", cause)
	w.conn.Close()
	w.conn = nil
}

func (w *WebSocket) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(w.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// Exchange sends frame and waits for the reply.
func (w *WebSocket) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if w.conn == nil {
		if err := w.connect(ctx); err != nil {
			return nil, err
		}
	}
	reply, err := w.exchange(ctx, frame)
	var remote *RemoteError
	if err != nil && !errors.As(err, &remote) && w.conn != nil {
		w.drop(err)
	}
	return reply, err
}

func (w *WebSocket) exchange(ctx context.Context, frame []byte) ([]byte, error) {
	conn := w.conn
	counter := w.counter
	w.counter++
	data := frame
	if w.sealer != nil {
		var err error
		if data, err = w.sealer.Seal(counter, frame, ToPod); err != nil {
			return nil, err
		}
	}

	// unblock the read if the context ends first
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	deadline := w.deadline(ctx)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	w.log.Tracef("send, HEX, %x", data)
	if err := conn.WriteMessage(websocket.BinaryMessage, message.WrapCommand(data)); err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		switch mt {
		case websocket.TextMessage:
			return nil, &RemoteError{Message: string(p)}
		case websocket.BinaryMessage:
		default:
			continue
		}
		w.log.Tracef("receive, HEX, %x", p)
		reply, err := message.UnwrapResponse(p)
		if err != nil {
			return nil, err
		}
		if w.sealer != nil {
			return w.sealer.Open(counter, reply, FromPod)
		}
		return reply, nil
	}
}

// Close closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
