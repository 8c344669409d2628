package transcription

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the set of active per-producer sessions and is the point of
// integration the RTP Forker's transcription sink pumps PCM bytes into.
type Manager struct {
	factory   Factory
	modelDir  string
	modelSize string
	enabled   bool
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager. When enabled is false every method is a
// no-op, matching the TRANSCRIPTION_ENABLED feature gate.
func NewManager(factory Factory, modelDir, modelSize string, enabled bool, log *zap.Logger) *Manager {
	return &Manager{
		factory:   factory,
		modelDir:  modelDir,
		modelSize: modelSize,
		enabled:   enabled,
		log:       log,
		sessions:  make(map[string]*Session),
	}
}

// Enabled reports the TRANSCRIPTION_ENABLED gate.
func (m *Manager) Enabled() bool { return m.enabled }

// StartSession resolves the model for language and starts a transcription
// session for producerID, delivering segments to sink. Each producer gets
// its own sink because the signaling layer binds room/channel/display-name
// context per producer (transcripts.Store.Sink); the manager itself is
// context-free. A ModelMissing error leaves no session running; recording
// (if any) continues unaffected.
func (m *Manager) StartSession(ctx context.Context, producerID, language string, threads int, sink SegmentSink) error {
	if !m.enabled {
		return nil
	}
	modelPath, err := ResolveModelPath(m.modelDir, m.modelSize, language)
	if err != nil {
		return err
	}

	underlying := m.factory.NewSession()
	sess, err := NewSession(ctx, producerID, underlying, modelPath, language, threads, sink, m.log)
	if err != nil {
		return fmt.Errorf("start transcription session: %w", err)
	}

	m.mu.Lock()
	m.sessions[producerID] = sess
	m.mu.Unlock()
	return nil
}

// HasSession reports whether producerID currently has an active session.
func (m *Manager) HasSession(producerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[producerID]
	return ok
}

// Write forwards PCM bytes to producerID's session, if one exists.
func (m *Manager) Write(producerID string, pcm []byte) {
	m.mu.Lock()
	sess, ok := m.sessions[producerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.Write(pcm)
}

// EndSession flushes and removes producerID's session, if any.
func (m *Manager) EndSession(producerID string) {
	m.mu.Lock()
	sess, ok := m.sessions[producerID]
	if ok {
		delete(m.sessions, producerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := sess.End(); err != nil {
		m.log.Warn("transcription session end failed", zap.String("producer_id", producerID), zap.Error(err))
	}
}

// Stats returns a snapshot of every active session's counters, keyed by
// producer id.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.CurrentStats()
	}
	return out
}
