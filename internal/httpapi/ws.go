package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The preview page may be served from another origin during development;
	// CORS settings decide which ones.
	CheckOrigin: checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !corsEnabled {
		return true
	}
	for _, o := range corsAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

var errConnClosed = errors.New("websocket closed")

// wsTransport adapts a WebSocket connection to broadcast.Transport. Writes
// are serialized; each carries its own deadline.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport { return &wsTransport{conn: conn} }

func (t *wsTransport) Send(msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errConnClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}
	wsMessagesTotal.WithLabelValues("out").Inc()
	return nil
}

func (t *wsTransport) Close() error {
	return t.closeWith(websocket.CloseNormalClosure, "")
}

func (t *wsTransport) closeWith(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// liveHandler upgrades to a WebSocket, subscribes it to the sketch and feeds
// inbound messages to the service until the client leaves.
func liveHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "sketch")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error.
			zlog.Debug().Err(err).Str("sketch", name).Msg("websocket upgrade failed")
			return
		}
		t := newWSTransport(conn)
		sub, err := svc.Subscribe(name, t)
		if err != nil {
			code := websocket.ClosePolicyViolation
			if statusFor(err) >= 500 {
				code = websocket.CloseTryAgainLater
			}
			_ = t.closeWith(code, "Invalid sketch: "+err.Error())
			return
		}
		defer svc.Unsubscribe(sub)

		conn.SetReadLimit(maxMessageBytes)
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-serverBaseCtx.Done():
				_ = t.closeWith(websocket.CloseGoingAway, "server shutting down")
			case <-stop:
			}
		}()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					zlog.Debug().Err(err).Str("sketch", name).Msg("websocket read ended")
				}
				return
			}
			if typ != websocket.TextMessage {
				continue
			}
			wsMessagesTotal.WithLabelValues("in").Inc()
			if err := svc.HandleMessage(sub, msg); err != nil {
				zlog.Debug().Err(err).Str("sketch", name).Msg("websocket message")
			}
		}
	}
}
