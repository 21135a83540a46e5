package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/internal/session/dispatch"
	"github.com/geekeatingbugz/whatsapp-bot/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultMaxConcurrency   = 8
	DefaultReplyTimeout     = 30 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second

	writeTimeout = 10 * time.Second
)

type Config struct {
	URL              string
	Token            string
	MaxConcurrency   int
	ReplyTimeout     time.Duration
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Transport is a session.Transport backed by a WhatsApp Web bridge that
// speaks JSON frames over a WebSocket.
type Transport struct {
	url            string
	token          string
	maxConcurrency int
	replyTimeout   time.Duration
	dialer         websocket.Dialer
	logger         *slog.Logger

	errs chan error

	mu  sync.Mutex
	cur *bridgeSession
}

// bridgeSession is one connected lifetime of the transport. Messages keep a
// pointer to the session they arrived on, so replies after a restart fail
// instead of going out on a new connection.
type bridgeSession struct {
	t      *Transport
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	pool   *dispatch.Pool[*message]
	done   chan struct{}

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan ackData
}

func New(cfg Config) (*Transport, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("missing bridge.url")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("invalid bridge.url %q (want ws:// or wss://)", url)
	}
	t := &Transport{
		url:            url,
		token:          strings.TrimSpace(cfg.Token),
		maxConcurrency: cfg.MaxConcurrency,
		replyTimeout:   cfg.ReplyTimeout,
		logger:         cfg.Logger,
		errs:           make(chan error, 1),
	}
	if t.maxConcurrency <= 0 {
		t.maxConcurrency = DefaultMaxConcurrency
	}
	if t.replyTimeout <= 0 {
		t.replyTimeout = DefaultReplyTimeout
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	t.dialer = *websocket.DefaultDialer
	t.dialer.HandshakeTimeout = handshake
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

func (t *Transport) Errors() <-chan error {
	return t.errs
}

func (t *Transport) Initialize(ctx context.Context, h session.Handlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != nil {
		return fmt.Errorf("bridge session already initialized")
	}
	select {
	case <-t.errs:
	default:
	}

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial bridge: http %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial bridge: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &bridgeSession{
		t:       t,
		conn:    conn,
		ctx:     sessCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]chan ackData),
	}
	s.pool = dispatch.Start(dispatch.StartOptions[*message]{
		Ctx:     sessCtx,
		Workers: t.maxConcurrency,
		Queue:   t.maxConcurrency * 4,
		Handle: func(ctx context.Context, m *message) {
			if h.OnMessage != nil {
				h.OnMessage(ctx, m)
			}
		},
		OnPanic: func(r any) {
			t.report(fmt.Errorf("message handler panicked: %v", r))
		},
	})
	t.cur = s
	t.logger.Info("bridge_connected", "url", t.url, "max_concurrency", t.maxConcurrency)

	go s.readLoop(h)
	return nil
}

func (t *Transport) Destroy(ctx context.Context) error {
	t.mu.Lock()
	s := t.cur
	t.cur = nil
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	s.writeMu.Unlock()
	closeErr := s.conn.Close()

	stopped := make(chan struct{})
	go func() {
		<-s.done
		s.pool.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("destroy bridge session: %w", ctx.Err())
	}
	t.logger.Info("bridge_disconnected")
	if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
		return closeErr
	}
	return nil
}

// report forwards a fatal session error. Only the first one per session is
// kept until the supervisor picks it up.
func (t *Transport) report(err error) {
	select {
	case t.errs <- err:
	default:
	}
}

func (s *bridgeSession) readLoop(h session.Handlers) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.t.report(fmt.Errorf("bridge event loop panicked: %v", r))
		}
	}()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.t.report(fmt.Errorf("bridge read: %w", err))
			}
			return
		}
		var f inboundFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.t.logger.Warn("bridge_frame_invalid", "error", err.Error())
			continue
		}
		if err := s.dispatch(f, h); err != nil {
			s.t.logger.Warn("bridge_frame_error", "type", f.Type, "error", err.Error())
		}
	}
}

func (s *bridgeSession) dispatch(f inboundFrame, h session.Handlers) error {
	switch f.Type {
	case frameQR:
		var d qrData
		if err := decodeData(f.Data, &d); err != nil {
			return err
		}
		if h.OnQRCode != nil {
			h.OnQRCode(d.Code)
		}
	case frameAuthenticated:
		if h.OnAuthenticated != nil {
			h.OnAuthenticated()
		}
	case frameReady:
		if h.OnReady != nil {
			h.OnReady()
		}
	case frameMessage:
		var d messageData
		if err := decodeData(f.Data, &d); err != nil {
			return err
		}
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("message frame without id")
		}
		m := &message{sess: s, data: d}
		// Acks and fault frames share this loop; it must not wait for a worker.
		if err := s.pool.TryEnqueue(m); err != nil {
			s.t.logger.Warn("bridge_message_dropped",
				"message_id", d.ID,
				"chat_id", d.ChatID,
				"sent_at", m.SentAt(),
				"error", err.Error(),
			)
			return nil
		}
		s.t.logger.Debug("bridge_message_queued", "message_id", d.ID, "chat_id", d.ChatID, "sent_at", m.SentAt())
	case frameAck:
		var d ackData
		if err := decodeData(f.Data, &d); err != nil {
			return err
		}
		s.resolve(d)
	case frameError:
		var d errorData
		if err := decodeData(f.Data, &d); err != nil {
			return err
		}
		if d.Fatal {
			s.t.report(fmt.Errorf("bridge error: %s", d.Message))
			return nil
		}
		return fmt.Errorf("bridge reported: %s", d.Message)
	default:
		s.t.logger.Debug("bridge_frame_ignored", "type", f.Type)
	}
	return nil
}

func (s *bridgeSession) resolve(ack ackData) {
	s.pendingMu.Lock()
	ch, ok := s.pending[ack.RequestID]
	if ok {
		delete(s.pending, ack.RequestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		s.t.logger.Debug("bridge_ack_unmatched", "request_id", ack.RequestID)
		return
	}
	ch <- ack
}

func (s *bridgeSession) sendReply(ctx context.Context, chatID, quotedID, text string) error {
	if s.ctx.Err() != nil {
		return session.ErrClosed
	}
	requestID := uuid.NewString()
	ch := make(chan ackData, 1)
	s.pendingMu.Lock()
	s.pending[requestID] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, requestID)
		s.pendingMu.Unlock()
	}()

	frame := outboundFrame{
		Type:      frameReply,
		RequestID: requestID,
		Data: replyData{
			ChatID:          chatID,
			QuotedMessageID: quotedID,
			Text:            text,
		},
	}
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := s.conn.WriteJSON(frame)
	s.writeMu.Unlock()
	if err != nil {
		if s.ctx.Err() != nil {
			return session.ErrClosed
		}
		return fmt.Errorf("write reply: %w", err)
	}

	timer := time.NewTimer(s.t.replyTimeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if !ack.OK {
			msg := strings.TrimSpace(ack.Error)
			if msg == "" {
				msg = "unknown error"
			}
			return fmt.Errorf("bridge rejected reply %s: %s", requestID, msg)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("reply %s: no ack within %s", requestID, s.t.replyTimeout)
	case <-s.ctx.Done():
		return session.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
