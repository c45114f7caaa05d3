package stream

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// messageEnvelopeBytes is the room left for the JSON around a frame payload.
const messageEnvelopeBytes = 4096

var errMessageTooLarge = errors.New("message too large")

// MessageLimit returns the largest client message accepted for frames of up
// to maxFrameBytes encoded bytes. 0 means unlimited.
func MessageLimit(maxFrameBytes int) int64 {
	if maxFrameBytes <= 0 {
		return 0
	}
	return int64(maxFrameBytes) + messageEnvelopeBytes
}

// HandlerOptions configures the websocket transport.
type HandlerOptions struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	// MaxMessageBytes bounds a single client message, 0 disables the limit.
	// Larger messages are discarded and answered with an error message.
	MaxMessageBytes int64
	CheckOrigin     func(r *http.Request) bool // nil accepts every origin
	Logger          *slog.Logger
}

// Handler serves the face recognition websocket. Each connection gets one
// reader goroutine and one writer goroutine.
type Handler struct {
	sessions   *Manager
	ingestor   *Ingestor
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	opts       HandlerOptions
	logger     *slog.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(sessions *Manager, ingestor *Ingestor, dispatcher *Dispatcher, opts HandlerOptions) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		sessions:   sessions,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024 * 64,
			WriteBufferSize: 1024 * 16,
		},
		opts:   opts,
		logger: opts.Logger.With("component", "websocket"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	session := h.sessions.Open()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, session)
	}()

	h.readLoop(conn, session)

	// Closing the session stops the writer, which closes the connection.
	_ = h.sessions.Close(session.ID)
	<-writerDone
}

func (h *Handler) readLoop(conn *websocket.Conn, session *Session) {
	pongWait := 2 * h.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, r, err := conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "session", session.ID, "error", err)
			}
			return
		}
		data, err := readLimited(r, h.opts.MaxMessageBytes)
		switch {
		case errors.Is(err, errMessageTooLarge):
			h.logger.Debug("oversized message discarded", "session", session.ID)
			session.Send(NewErrorMessage("Message exceeds the maximum frame size"))
		case err != nil:
			h.logger.Warn("websocket read failed", "session", session.ID, "error", err)
			return
		default:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				session.Send(NewErrorMessage("Invalid message format"))
				break
			}
			h.handleMessage(session, msg)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// readLimited reads one message of at most limit bytes, 0 meaning no limit.
// An oversized message is drained so the connection stays usable.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, errMessageTooLarge
	}
	return data, nil
}

func (h *Handler) handleMessage(session *Session, msg ClientMessage) {
	var err error
	switch msg.Type {
	case TypeToggleFaceDetection:
		if msg.Enabled == nil {
			session.Send(NewErrorMessage("toggle_face_detection requires enabled"))
			return
		}
		err = h.sessions.SetDetection(session.ID, *msg.Enabled)
	case TypeVideoFrame:
		err = h.ingestor.Submit(session.ID, msg.FrameData)
		var decodeErr *FrameDecodeError
		if errors.As(err, &decodeErr) {
			h.dispatcher.ReportError(session.ID, decodeErr)
			return
		}
	case TypeClearFaceCache:
		err = h.dispatcher.ClearCache(session.ID)
		var mutationErr *CacheMutationError
		if errors.As(err, &mutationErr) {
			return // already reported to the client
		}
	case TypeMatchFace:
		err = h.dispatcher.MatchEmbedding(session.ID, msg.Embedding)
	default:
		session.Send(NewErrorMessage("Unknown message type: " + msg.Type))
		return
	}

	if err != nil {
		h.logger.Warn("message handling failed", "session", session.ID, "type", msg.Type, "error", err)
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, session *Session) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("websocket write failed", "session", session.ID, "error", err)
				_ = h.sessions.Close(session.ID)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = h.sessions.Close(session.ID)
				return
			}
		case <-session.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.opts.WriteTimeout))
			return
		}
	}
}
