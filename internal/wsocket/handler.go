package wsocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/conversation"
	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/utils/broker"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 8 * 1024
	outBuffer  = 16
)

// Client frame types.
const (
	TypeSetup   = "setup"
	TypeMessage = "message"
	TypeReset   = "reset"
	TypeHistory = "history"
	TypeError   = "error"
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Type    string                `json:"type"`
	Content string                `json:"content,omitempty"`
	Config  *models.ChatbotConfig `json:"config,omitempty"`
}

// Message is a frame sent to the browser.
type Message struct {
	Type      string                        `json:"type"`
	SessionID string                        `json:"sessionId"`
	Message   *models.ChatMessage           `json:"message,omitempty"`
	MessageID string                        `json:"messageId,omitempty"`
	Typing    bool                          `json:"typing,omitempty"`
	Messages  []models.ChatMessage          `json:"messages,omitempty"`
	Config    *models.ChatbotConfig         `json:"config,omitempty"`
	Content   string                        `json:"content,omitempty"`
	Silence   *conversation.SilenceSnapshot `json:"silence,omitempty"`
}

type Handler struct {
	manager  *conversation.Manager
	broker   *broker.Broker
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewHandler(manager *conversation.Manager, messageBroker *broker.Broker, upgrader websocket.Upgrader, logger zerolog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		broker:   messageBroker,
		upgrader: upgrader,
		logger:   logger,
	}
}

func fromEvent(ev conversation.Event) Message {
	return Message{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Message:   ev.Message,
		MessageID: ev.MessageID,
		Typing:    ev.Typing,
		Config:    ev.Config,
		Content:   ev.Content,
	}
}

func historyOf(s conversation.Snapshot) Message {
	silence := s.Silence
	return Message{
		Type:      TypeHistory,
		SessionID: s.SessionID,
		Messages:  s.Messages,
		Config:    s.Config,
		Typing:    s.Typing,
		Silence:   &silence,
	}
}

// HandleWebSocket serves one browser tab of the chat identified by the
// sessionId query parameter. Every tab of a session shares one engine.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "No sessionId provided", http.StatusBadRequest)
		return
	}
	logger := h.logger.With().Str("session_id", sessionID).Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	engine, err := h.manager.Acquire(r.Context(), sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open chat engine")
		_ = conn.WriteJSON(Message{Type: TypeError, SessionID: sessionID, Content: "Failed to open chat session"})
		return
	}
	defer h.manager.Release(sessionID)

	events := h.broker.Subscribe(conversation.Topic(sessionID))
	defer h.broker.Unsubscribe(conversation.Topic(sessionID), events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Message, outBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, events, out, logger)
		// unblock the reader
		cancel()
		conn.Close()
	}()

	send := func(msg Message) {
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	}
	send(historyOf(engine.Snapshot()))

	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket closed unexpectedly")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(Message{Type: TypeError, SessionID: sessionID, Content: "Malformed frame"})
			continue
		}
		if reply, ok := h.dispatch(engine, msg, logger); ok {
			send(reply)
		}
	}

	cancel()
	<-writerDone
}

// dispatch applies one client frame to the engine. It returns a frame for
// the sender only; state changes reach every tab through the broker.
func (h *Handler) dispatch(engine *conversation.Engine, msg ClientMessage, logger zerolog.Logger) (Message, bool) {
	sessionID := engine.SessionID()
	errorFrame := func(content string) (Message, bool) {
		return Message{Type: TypeError, SessionID: sessionID, Content: content}, true
	}

	switch msg.Type {
	case TypeSetup:
		if msg.Config == nil {
			return errorFrame("Missing config")
		}
		if err := engine.Configure(*msg.Config); err != nil {
			logger.Debug().Err(err).Msg("Rejected chat configuration")
			return errorFrame(err.Error())
		}
	case TypeMessage:
		if _, err := engine.SendUser(msg.Content); err != nil {
			if errors.Is(err, conversation.ErrNotConfigured) {
				return errorFrame("Chat is not configured yet")
			}
			return errorFrame(err.Error())
		}
	case TypeReset:
		if err := engine.Reset(); err != nil {
			return errorFrame(err.Error())
		}
	case TypeHistory:
		return historyOf(engine.Snapshot()), true
	default:
		logger.Debug().Str("type", msg.Type).Msg("Unknown frame type")
		return errorFrame("Unknown message type: " + msg.Type)
	}
	return Message{}, false
}

// writeLoop is the only goroutine that writes to conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan interface{}, out <-chan Message, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg Message) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write frame")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-out:
			if !write(msg) {
				return
			}
		case raw, ok := <-events:
			if !ok {
				// the broker dropped a lagging subscriber; the client reconnects for a fresh history
				logger.Warn().Msg("Event stream closed, asking client to reconnect")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream lagged"),
					time.Now().Add(writeWait))
				return
			}
			ev, isEvent := raw.(conversation.Event)
			if !isEvent {
				continue
			}
			if !write(fromEvent(ev)) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
