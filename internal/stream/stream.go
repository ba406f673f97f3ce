// Package stream reads push envelopes from a websocket and hands them to
// the update engine.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/roach88/ptsync/internal/tl"
)

const (
	reconnectMin = 500 * time.Millisecond
	reconnectMax = 30 * time.Second

	// readLimit bounds a single envelope frame.
	readLimit = 8 << 20
)

// Handler consumes envelopes. *updates.Manager satisfies it.
type Handler interface {
	HandleEnvelope(ctx context.Context, env tl.Envelope, noDispatch bool) error
	CatchUp(ctx context.Context) error
}

// wsConn is the subset of *websocket.Conn the reader uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// DialFunc opens a connection.
type DialFunc func(ctx context.Context, url string) (wsConn, error)

// Reader keeps a websocket open and feeds every frame to a Handler.
type Reader struct {
	url     string
	token   string
	handler Handler
	logger  *zap.Logger
	dial    DialFunc
}

// Opt configures a Reader.
type Opt func(*Reader)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithToken sends a bearer token on dial.
func WithToken(token string) Opt {
	return func(r *Reader) {
		r.token = token
	}
}

func withDial(dial DialFunc) Opt {
	return func(r *Reader) {
		r.dial = dial
	}
}

// New creates a Reader for url.
func New(url string, handler Handler, opts ...Opt) *Reader {
	r := &Reader{
		url:     url,
		handler: handler,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dial == nil {
		r.dial = r.dialWebsocket
	}
	return r
}

func (r *Reader) dialWebsocket(ctx context.Context, url string) (wsConn, error) {
	opts := &websocket.DialOptions{}
	if r.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + r.token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts) //nolint:bodyclose // Dial closes the response body
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Run reads until ctx ends. Lost connections are redialed with backoff;
// every reconnect is followed by a catch-up because pushes sent while
// disconnected are gone.
func (r *Reader) Run(ctx context.Context) error {
	delay := reconnectMin
	connected := false
	for {
		conn, err := r.dial(ctx, r.url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("dial failed", zap.String("url", r.url), zap.Duration("retry_in", delay), zap.Error(err))
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay = min(delay*2, reconnectMax)
			continue
		}
		delay = reconnectMin

		if connected {
			r.logger.Info("reconnected, catching up")
			if err := r.handler.CatchUp(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("catch up after reconnect failed", zap.Error(err))
			}
		}
		connected = true

		err = r.read(ctx, conn)
		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		}
		_ = conn.Close(websocket.StatusGoingAway, "read failed")
		r.logger.Warn("connection lost", zap.Error(err))
	}
}

// read consumes frames until the connection fails.
func (r *Reader) read(ctx context.Context, conn wsConn) error {
	conn.SetReadLimit(readLimit)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		if typ != websocket.MessageText {
			r.logger.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}

		env, err := tl.DecodeEnvelope(data)
		if err != nil {
			var unknown *tl.UnknownTypeError
			if errors.As(err, &unknown) {
				r.logger.Debug("ignoring unknown frame", zap.String("type", unknown.Name))
				continue
			}
			r.logger.Warn("undecodable frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}

		if err := r.handler.HandleEnvelope(ctx, env, false); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
