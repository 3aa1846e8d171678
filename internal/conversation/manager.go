package conversation

import (
	"context"
	"sync"

	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
	"github.com/rs/zerolog"
)

type ManagerOptions struct {
	Responder Responder
	Personas  Personas
	Publisher Publisher
	KV        KV
	Clock     Clock
	Rand      random.Source
	Delays    Delays
	Logger    zerolog.Logger
}

type managedEngine struct {
	engine *Engine
	refs   int
}

// Manager keeps one engine per session. Every socket of a session shares the
// engine; the last Release closes it.
type Manager struct {
	opts    ManagerOptions
	mu      sync.Mutex
	engines map[string]*managedEngine
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.KV == nil {
		opts.KV = NewMemoryKV()
	}
	if opts.Rand == nil {
		opts.Rand = random.NewTimeSeeded()
	}
	return &Manager{
		opts:    opts,
		engines: make(map[string]*managedEngine),
	}
}

func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if me, ok := m.engines[sessionID]; ok {
		me.refs++
		return me.engine, nil
	}
	engine, err := NewEngine(ctx, sessionID, Options{
		Responder:  m.opts.Responder,
		Personas:   m.opts.Personas,
		Publisher:  m.opts.Publisher,
		Transcript: NewTranscript(m.opts.KV, sessionID),
		Clock:      m.opts.Clock,
		Rand:       m.opts.Rand,
		Delays:     m.opts.Delays,
		Logger:     m.opts.Logger.With().Str("session_id", sessionID).Logger(),
	})
	if err != nil {
		return nil, err
	}
	m.engines[sessionID] = &managedEngine{engine: engine, refs: 1}
	return engine, nil
}

func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	me, ok := m.engines[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	me.refs--
	if me.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.engines, sessionID)
	m.mu.Unlock()

	me.engine.Close()
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Close shuts down every engine regardless of references.
func (m *Manager) Close() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*managedEngine)
	m.mu.Unlock()

	for _, me := range engines {
		me.engine.Close()
	}
}
