package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/services"
	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
	"github.com/rs/zerolog"
)

var (
	ErrNotConfigured = errors.New("chat persona is not configured")
	ErrEngineClosed  = errors.New("chat engine is closed")
	ErrEmptyMessage  = errors.New("message is empty")
)

// Responder produces the reply to one chat request.
type Responder interface {
	Respond(ctx context.Context, req *models.ChatRequest) (*models.ChatReply, error)
}

type ResponderFunc func(ctx context.Context, req *models.ChatRequest) (*models.ChatReply, error)

func (f ResponderFunc) Respond(ctx context.Context, req *models.ChatRequest) (*models.ChatReply, error) {
	return f(ctx, req)
}

// Personas is the persona data the engine needs.
type Personas interface {
	SilenceWait(mbti models.MBTIType) time.Duration
	SilenceFallbacks(mbti models.MBTIType) []string
	WelcomeLines(cfg models.ChatbotConfig) []string
	TimeGreetings(period string) []string
}

type Publisher interface {
	Publish(topic string, msg interface{}) int
}

type EventType string

const (
	EventMessage EventType = "message"
	EventRead    EventType = "read"
	EventTyping  EventType = "typing"
	EventReset   EventType = "reset"
	EventError   EventType = "error"
)

// Event is published to Topic(sessionID) for every visible change.
type Event struct {
	Type      EventType             `json:"type"`
	SessionID string                `json:"sessionId"`
	Message   *models.ChatMessage   `json:"message,omitempty"`
	MessageID string                `json:"messageId,omitempty"`
	Typing    bool                  `json:"typing,omitempty"`
	Config    *models.ChatbotConfig `json:"config,omitempty"`
	Content   string                `json:"content,omitempty"`
}

func Topic(sessionID string) string {
	return "chat_" + sessionID
}

type Options struct {
	Responder  Responder
	Personas   Personas
	Publisher  Publisher
	Transcript *Transcript
	Clock      Clock
	Rand       random.Source
	// Delays defaults to DefaultDelays when left zero.
	Delays Delays
	Logger zerolog.Logger
}

type Snapshot struct {
	SessionID string                `json:"sessionId"`
	Config    *models.ChatbotConfig `json:"config,omitempty"`
	Messages  []models.ChatMessage  `json:"messages"`
	Typing    bool                  `json:"typing"`
	Silence   SilenceSnapshot       `json:"silence"`
}

// Engine paces the conversation of one chat session: it reveals replies
// bubble by bubble, simulates read and typing states, and re-engages a
// silent user.
type Engine struct {
	sessionID  string
	responder  Responder
	personas   Personas
	publisher  Publisher
	transcript *Transcript
	clock      Clock
	rand       random.Source
	pacer      *Pacer
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	config   *models.ChatbotConfig
	messages []models.ChatMessage
	typing   bool
	// gen is bumped by every user message, reset and reconfiguration. Work
	// started under an older generation is discarded.
	gen      uint64
	inflight context.CancelFunc
	silence  silenceTracker
	welcome  Timer
}

// NewEngine restores the session's transcript and returns an idle engine.
func NewEngine(ctx context.Context, sessionID string, opts Options) (*Engine, error) {
	if opts.Responder == nil || opts.Personas == nil || opts.Publisher == nil {
		return nil, errors.New("responder, personas and publisher are required")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Rand == nil {
		opts.Rand = random.NewTimeSeeded()
	}
	if opts.Delays == (Delays{}) {
		opts.Delays = DefaultDelays()
	}
	if opts.Transcript == nil {
		opts.Transcript = NewTranscript(NewMemoryKV(), sessionID)
	}

	messages, err := opts.Transcript.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore messages: %w", err)
	}
	config, err := opts.Transcript.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore config: %w", err)
	}

	e := &Engine{
		sessionID:  sessionID,
		responder:  opts.Responder,
		personas:   opts.Personas,
		publisher:  opts.Publisher,
		transcript: opts.Transcript,
		clock:      opts.Clock,
		rand:       opts.Rand,
		pacer:      NewPacer(opts.Delays, opts.Rand),
		logger:     opts.Logger,
		config:     config,
		messages:   messages,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

// Configure selects the persona. Choosing a different persona restarts the
// conversation; choosing the same one keeps it.
func (e *Engine) Configure(cfg models.ChatbotConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid persona: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	if e.config != nil && *e.config == cfg {
		if len(e.messages) == 0 && e.welcome == nil {
			e.scheduleWelcomeLocked()
		}
		return nil
	}

	e.clearLocked()
	e.config = &cfg
	if err := e.transcript.SaveConfig(e.ctx, cfg); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to persist chatbot config")
	}
	e.publishLocked(Event{Type: EventReset, Config: &cfg})
	e.logger.Info().
		Str("mbti", string(cfg.MBTI)).
		Str("relationship", string(cfg.Relationship)).
		Msg("Chat configured")
	e.scheduleWelcomeLocked()
	return nil
}

// Reset clears the conversation and the persona.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.clearLocked()
	e.config = nil
	e.publishLocked(Event{Type: EventReset})
	return nil
}

func (e *Engine) clearLocked() {
	e.gen++
	if e.inflight != nil {
		e.inflight()
		e.inflight = nil
	}
	e.silence.reset()
	e.stopWelcomeLocked()
	e.messages = nil
	e.typing = false
	if err := e.transcript.Clear(e.ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to clear transcript")
	}
}

// SendUser appends a user message and starts its reply. Anything still in
// flight for an earlier message is cancelled and its reply discarded.
func (e *Engine) SendUser(content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.config == nil {
		return nil, ErrNotConfigured
	}

	e.gen++
	gen := e.gen
	if e.inflight != nil {
		e.inflight()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.inflight = cancel
	e.silence.reset()
	e.stopWelcomeLocked()

	for i := range e.messages {
		if e.messages[i].Sender == models.SenderBot {
			e.messages[i].IsRead = true
		}
	}
	msg := models.NewChatMessage(content, models.SenderUser, e.clock.Now())
	e.messages = append(e.messages, msg)
	e.persistLocked()
	published := msg
	e.publishLocked(Event{Type: EventMessage, Message: &published})

	req := e.userRequestLocked()
	e.spawnLocked(func() { e.runUserTurn(ctx, gen, msg.ID, req) })
	return &msg, nil
}

type respondResult struct {
	reply *models.ChatReply
	err   error
}

func (e *Engine) runUserTurn(ctx context.Context, gen uint64, messageID string, req *models.ChatRequest) {
	replies := make(chan respondResult, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		reply, err := e.responder.Respond(ctx, req)
		replies <- respondResult{reply: reply, err: err}
	}()

	delays := e.pacer.Delays()
	if err := e.clock.Sleep(ctx, delays.Read); err != nil {
		return
	}
	e.markRead(gen, messageID)
	if err := e.clock.Sleep(ctx, delays.TypingLead); err != nil {
		return
	}
	if !e.setTyping(gen, true) {
		return
	}

	var res respondResult
	select {
	case <-ctx.Done():
		return
	case res = <-replies:
	}
	if ctx.Err() != nil {
		return
	}
	if res.err != nil {
		e.logger.Error().Err(res.err).Msg("Chat request failed")
		e.fail(gen, res.err)
		return
	}

	segments := replySegments(res.reply)
	if len(segments) == 0 {
		e.setTyping(gen, false)
		return
	}
	e.reveal(ctx, gen, segments)
}

func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gen {
		return
	}
	e.publishLocked(Event{Type: EventError, Content: err.Error()})
	e.appendBotLocked(fmt.Sprintf("죄송해요, 오류가 발생했어요. 😢\n\n%s\n\n잠시 후 다시 시도해주세요.", err.Error()))
	e.setTypingLocked(false)
	e.armSilenceLocked()
}

// reveal appends segments in order with the pacer's delays. It stops as soon
// as the generation changes.
func (e *Engine) reveal(ctx context.Context, gen uint64, segments []string) {
	for i, segment := range segments {
		if err := e.clock.Sleep(ctx, e.pacer.SegmentDelay(i)); err != nil {
			return
		}
		e.mu.Lock()
		if e.closed || gen != e.gen {
			e.mu.Unlock()
			return
		}
		e.appendBotLocked(segment)
		if i == len(segments)-1 {
			e.setTypingLocked(false)
			e.armSilenceLocked()
		}
		e.mu.Unlock()
	}
}

func replySegments(reply *models.ChatReply) []string {
	if reply == nil {
		return nil
	}
	segments := make([]string, 0, len(reply.Segments))
	for _, s := range reply.Segments {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		if text := strings.TrimSpace(reply.Text); text != "" {
			segments = append(segments, text)
		}
	}
	return segments
}

func (e *Engine) armSilenceLocked() {
	n := len(e.messages)
	if e.config == nil || n == 0 || e.messages[n-1].Sender != models.SenderBot {
		return
	}
	if ConversationEnded(e.messages) {
		e.silence.idle()
		e.logger.Debug().Msg("Conversation ended, silence follow-up not armed")
		return
	}
	if !e.silence.arm(e.clock, e.personas.SilenceWait(e.config.MBTI), e.onSilence) {
		e.logger.Debug().Int("attempts", e.silence.attempts).Msg("Silence follow-ups exhausted")
	}
}

func (e *Engine) onSilence(token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.config == nil || token != e.silence.token {
		return
	}
	if n := len(e.messages); n == 0 || e.messages[n-1].Sender != models.SenderBot {
		e.silence.idle()
		return
	}
	if ConversationEnded(e.messages) {
		e.silence.idle()
		return
	}
	if !e.silence.fire(token) {
		return
	}

	gen := e.gen
	if e.inflight != nil {
		e.inflight()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.inflight = cancel
	req := e.silenceRequestLocked()
	e.logger.Info().Int("attempt", e.silence.attempts).Msg("Sending silence follow-up")
	e.spawnLocked(func() { e.runSilenceTurn(ctx, gen, req) })
}

func (e *Engine) runSilenceTurn(ctx context.Context, gen uint64, req *models.ChatRequest) {
	reply, err := e.responder.Respond(ctx, req)
	if ctx.Err() != nil {
		return
	}

	var segments []string
	text := ""
	switch {
	case err != nil:
		e.logger.Warn().Err(err).Msg("Silence follow-up failed, using fallback line")
	case reply != nil:
		segments = replySegments(reply)
		text = reply.Text
	}
	if len(segments) == 0 {
		text = random.Pick(e.rand, e.personas.SilenceFallbacks(req.Config.MBTI))
		segments = []string{text}
	}
	if text == "" {
		text = strings.Join(segments, " ")
	}

	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.silence.record(text)
	e.setTypingLocked(true)
	e.mu.Unlock()

	if err := e.clock.Sleep(ctx, e.pacer.SilenceTypingDelay()); err != nil {
		return
	}
	e.reveal(ctx, gen, segments)
}

func (e *Engine) scheduleWelcomeLocked() {
	if e.config == nil || len(e.messages) > 0 || !e.config.MBTI.IsExtravert() {
		return
	}
	e.stopWelcomeLocked()
	gen := e.gen
	e.welcome = e.clock.AfterFunc(e.pacer.Delays().Welcome, func() { e.onWelcome(gen) })
}

func (e *Engine) stopWelcomeLocked() {
	if e.welcome != nil {
		e.welcome.Stop()
		e.welcome = nil
	}
}

func (e *Engine) onWelcome(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gen || e.config == nil || len(e.messages) > 0 {
		return
	}
	e.welcome = nil

	hour := services.ResolveKoreaTime(nil, nil, e.clock.Now()).Hour
	line, ok := WelcomeLine(e.personas, *e.config, hour, e.rand)
	if !ok {
		return
	}
	e.appendBotLocked(line)
	e.armSilenceLocked()
}

// markRead marks messageID and every earlier unread user message as read.
// A turn superseded before its read delay leaves its message to the next one.
func (e *Engine) markRead(gen uint64, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gen {
		return
	}
	var read []string
	for i := range e.messages {
		m := &e.messages[i]
		if m.Sender == models.SenderUser && !m.IsRead {
			m.IsRead = true
			read = append(read, m.ID)
		}
		if m.ID == messageID {
			break
		}
	}
	if len(read) == 0 {
		return
	}
	e.persistLocked()
	for _, id := range read {
		e.publishLocked(Event{Type: EventRead, MessageID: id})
	}
}

func (e *Engine) setTyping(gen uint64, typing bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gen {
		return false
	}
	e.setTypingLocked(typing)
	return true
}

func (e *Engine) setTypingLocked(typing bool) {
	if e.typing == typing {
		return
	}
	e.typing = typing
	e.publishLocked(Event{Type: EventTyping, Typing: typing})
}

func (e *Engine) appendBotLocked(content string) {
	msg := models.NewChatMessage(content, models.SenderBot, e.clock.Now())
	e.messages = append(e.messages, msg)
	e.persistLocked()
	e.publishLocked(Event{Type: EventMessage, Message: &msg})
}

func (e *Engine) persistLocked() {
	if err := e.transcript.SaveMessages(e.ctx, e.messages); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to persist messages")
	}
}

func (e *Engine) publishLocked(ev Event) {
	ev.SessionID = e.sessionID
	e.publisher.Publish(Topic(e.sessionID), ev)
}

func (e *Engine) spawnLocked(f func()) {
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		f()
	}()
}

func (e *Engine) userRequestLocked() *models.ChatRequest {
	cfg := *e.config
	now := e.clock.Now()
	return &models.ChatRequest{
		Messages:   append([]models.ChatMessage(nil), e.messages...),
		Config:     &cfg,
		ClientTime: &now,
		SessionID:  e.sessionID,
	}
}

func (e *Engine) silenceRequestLocked() *models.ChatRequest {
	recent := e.messages
	if len(recent) > endingWindow {
		recent = recent[len(recent)-endingWindow:]
	}
	history := make([]models.HistoryEntry, 0, len(recent))
	for _, m := range recent {
		history = append(history, models.HistoryEntry{Sender: m.Sender, Content: m.Content})
	}

	cfg := *e.config
	now := e.clock.Now()
	return &models.ChatRequest{
		Messages:          append([]models.ChatMessage(nil), recent...),
		Config:            &cfg,
		ClientTime:        &now,
		SessionID:         e.sessionID,
		IsSilenceResponse: true,
		SilenceContext: &models.SilenceContext{
			AttemptNumber:           e.silence.attempts,
			TotalAttempts:           MaxSilenceAttempts,
			ConversationHistory:     history,
			PreviousSilenceMessages: append([]string(nil), e.silence.previous...),
		},
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		SessionID: e.sessionID,
		Messages:  append([]models.ChatMessage(nil), e.messages...),
		Typing:    e.typing,
		Silence:   e.silence.snapshot(),
	}
	if e.config != nil {
		cfg := *e.config
		s.Config = &cfg
	}
	return s
}

// Close cancels every timer and in-flight request and waits for the
// engine's goroutines to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.silence.cancel()
	e.stopWelcomeLocked()
	if e.inflight != nil {
		e.inflight()
		e.inflight = nil
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}
