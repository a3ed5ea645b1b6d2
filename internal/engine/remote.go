package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// RemoteOptions are forwarded to the segmentation service on connect
type RemoteOptions struct {
	ModelSelection int
	SelfieMode     bool
	Dialer         *websocket.Dialer
}

// Remote talks to an external segmentation service over a websocket. Each
// Send writes one FrameRequest and waits for the matching MaskResponse.
// The connection is dialed lazily and redialed after any failure.
type Remote struct {
	url  string
	opts RemoteOptions
	log  *zerolog.Logger

	// sendMu keeps one request in flight on the connection
	sendMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	fn     func(Result)
	closed bool
}

// NewRemote creates a remote engine for url (ws:// or wss://)
func NewRemote(url string, opts RemoteOptions) *Remote {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Remote{
		url:  url,
		opts: opts,
		log:  logger.WithComponent("engine-remote"),
	}
}

// OnResults registers the result callback
func (r *Remote) OnResults(fn func(Result)) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

// Connect dials the service and sends the hello message
func (r *Remote) Connect(ctx context.Context) error {
	_, err := r.connection(ctx)
	return err
}

func (r *Remote) connection(ctx context.Context) (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.conn != nil {
		return r.conn, nil
	}

	conn, _, err := r.opts.Dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial segmentation engine %s: %w", r.url, err)
	}

	hello, err := cbor.Marshal(Hello{
		Type:           MsgHello,
		ModelSelection: r.opts.ModelSelection,
		SelfieMode:     r.opts.SelfieMode,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to encode hello: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	r.log.Info().
		Str("url", r.url).
		Int("model_selection", r.opts.ModelSelection).
		Bool("selfie_mode", r.opts.SelfieMode).
		Msg("Connected to segmentation engine")

	r.conn = conn
	return conn, nil
}

// dropConn discards conn after a failure so the next Send redials
func (r *Remote) dropConn(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	conn.Close()
}

// Send submits f and blocks until its mask arrives or ctx is done
func (r *Remote) Send(ctx context.Context, f *frame.Frame) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	conn, err := r.connection(ctx)
	if err != nil {
		return err
	}

	payload, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		r.dropConn(conn)
		return fmt.Errorf("failed to send frame %d: %w", f.Seq, err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		r.dropConn(conn)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("failed to read mask for frame %d: %w", f.Seq, err)
	}

	mask, seq, err := DecodeMask(data)
	switch {
	case err != nil:
		r.log.Debug().Err(err).Uint64("seq", f.Seq).Msg("No mask for frame")
		mask = nil
	case seq != f.Seq:
		r.log.Warn().
			Uint64("seq", f.Seq).
			Uint64("got", seq).
			Msg("Mask answered a different frame")
		mask = nil
	}

	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		fn(Result{Frame: f, Mask: mask})
	}
	return nil
}

// Name returns the engine name
func (r *Remote) Name() string {
	return "remote"
}

// Close shuts the connection down
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := r.conn.Close()
	r.conn = nil
	return err
}
