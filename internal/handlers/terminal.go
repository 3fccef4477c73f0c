package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/jshsakura/oc-terminal-list/internal/terminal"
	"github.com/rs/zerolog"
)

const (
	// maxFrameBytes caps one outbound text frame; longer payloads are split
	// on rune boundaries.
	maxFrameBytes = 64 * 1024
	// frameWriteTimeout bounds a single frame write to a stalled client.
	frameWriteTimeout = 10 * time.Second
	// defaultOutboundQueue is used when Handler.OutboundQueue is unset.
	defaultOutboundQueue = 256

	closeAuthRequired = websocket.StatusCode(4401)
	closeSessionGone  = websocket.StatusCode(4404)
	closeSpawnFailed  = websocket.StatusCode(4500)
)

// TerminalWS streams one session over a WebSocket.
//
// Query parameters:
//   - token: optional bearer token identifying the user.
//   - cols, rows: initial size, used only when the session is created.
//
// The session is created on first connect and survives disconnects. On
// every connect the retained history is replayed as one or more text
// frames, then live output follows. Text frames from the client are
// written to the shell's input.
func (h *Handler) TerminalWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !validSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid session ID")
		return
	}

	q := r.URL.Query()
	user, authorized := h.wsIdentity(q.Get("token"))

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.Log.Warn().Err(err).Str("session", sessionID).Msg("accept terminal websocket")
		return
	}
	defer conn.CloseNow()

	if !authorized {
		conn.Close(closeAuthRequired, "Authentication required")
		return
	}

	ctx := r.Context()
	log := h.Log.With().Str("session", sessionID).Str("user", user).Logger()

	cols, rows := terminal.ClampSize(atoiOr(q.Get("cols"), 0), atoiOr(q.Get("rows"), 0))
	_, created, err := h.Sessions.Create(ctx, sessionID, user, cols, rows)
	if err != nil {
		log.Error().Err(err).Msg("terminal session creation failed")
		conn.Close(closeSpawnFailed, "Failed to start shell")
		return
	}
	if created {
		log.Info().Uint16("cols", cols).Uint16("rows", rows).Msg("terminal session created")
	} else {
		log.Info().Msg("terminal session reconnected")
	}

	conn.SetReadLimit(1024 * 1024)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := newWSChannel(conn, h.outboundQueue(), log)
	go ch.run(connCtx)

	if err := h.Sessions.Attach(connCtx, sessionID, ch); err != nil {
		log.Warn().Err(err).Msg("attach failed")
		ch.close()
		conn.Close(closeSessionGone, "Session not available")
		return
	}
	defer func() {
		h.Sessions.Detach(sessionID, ch)
		log.Info().Msg("terminal session detached")
	}()

	limiter := terminal.NewRateLimiter()

	// Browser -> shell input
	for {
		msgType, data, err := conn.Read(connCtx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageText {
			continue
		}
		// Drop messages that exceed the allowed rate
		if !limiter.Allow() {
			continue
		}
		if len(data) > terminal.MaxInputMessageSize {
			log.Warn().Int("size", len(data)).Int("limit", terminal.MaxInputMessageSize).Msg("terminal input message too large")
			continue
		}
		h.Sessions.WriteInput(sessionID, data)
	}

	ch.close()
	conn.Close(websocket.StatusNormalClosure, "")
}

// wsIdentity resolves the connection's user. An invalid or missing token
// falls back to the anonymous identity unless authentication is required.
func (h *Handler) wsIdentity(token string) (string, bool) {
	if token != "" && h.Auth != nil {
		if user, err := h.Auth.Resolve(token); err == nil {
			return user, true
		}
	}
	if h.AuthRequired {
		return "", false
	}
	return h.Anonymous, true
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	for _, p := range h.OriginPatterns {
		if p == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns}
}

func (h *Handler) outboundQueue() int {
	if h.OutboundQueue > 0 {
		return h.OutboundQueue
	}
	return defaultOutboundQueue
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// wsChannel is a terminal.Channel over a WebSocket. Messages go through a
// bounded queue to a writer goroutine; when the queue is full or the
// connection is gone, Send fails immediately and the session detaches us.
type wsChannel struct {
	conn *websocket.Conn
	out  chan string
	log  zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn, queue int, log zerolog.Logger) *wsChannel {
	return &wsChannel{
		conn: conn,
		// One extra slot for the replay, which always comes first.
		out:  make(chan string, queue+1),
		log:  log,
		done: make(chan struct{}),
	}
}

func (c *wsChannel) Replay(history string) error {
	if history == "" {
		return nil
	}
	return c.enqueue(history)
}

func (c *wsChannel) Send(chunk string) error {
	return c.enqueue(chunk)
}

func (c *wsChannel) enqueue(msg string) error {
	select {
	case <-c.done:
		return terminal.ErrChannelClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return terminal.ErrChannelFull
	}
}

func (c *wsChannel) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// run writes queued messages until the connection fails or ctx ends. A
// failed write closes the connection so the read loop ends too.
func (c *wsChannel) run(ctx context.Context) {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.out:
			for _, frame := range splitFrames(msg, maxFrameBytes) {
				wctx, cancel := context.WithTimeout(ctx, frameWriteTimeout)
				err := c.conn.Write(wctx, websocket.MessageText, []byte(frame))
				cancel()
				if err != nil {
					c.log.Debug().Err(err).Msg("terminal websocket write failed")
					c.close()
					c.conn.CloseNow()
					return
				}
			}
		}
	}
}

// splitFrames cuts s into pieces of at most limit bytes without splitting
// a UTF-8 sequence.
func splitFrames(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var frames []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		frames = append(frames, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		frames = append(frames, s)
	}
	return frames
}
