package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/room4-2/OrderDesk/registry"
)

var (
	ErrSessionExists   = errors.New("audio session already exists")
	ErrSessionNotFound = errors.New("audio session not found")
	ErrInvalidChunk    = errors.New("invalid audio chunk")
	ErrNoAudioData     = errors.New("no audio data")
	ErrBufferTooSmall  = errors.New("audio buffer too small")
)

// Session is the buffered state of one recording
type Session struct {
	ID             string
	Format         string
	OrderSessionID string
	ConnectionID   string
	CreatedAt      time.Time

	Buffer Buffer

	// CheckpointIndex is the number of chunks already covered by a transcription pass
	CheckpointIndex   int
	LastTranscribedAt time.Time
	PartialInFlight   bool
}

// Info is the metadata supplied when a recording starts
type Info struct {
	Format         string
	OrderSessionID string
	ConnectionID   string
}

// Stats is a read-only view of a session used for logging and responses
type Stats struct {
	Info
	Chunks          int
	Bytes           int
	CheckpointIndex int
	CreatedAt       time.Time
}

// AppendResult describes the buffer after a successful append
type AppendResult struct {
	ChunkSize  int
	ChunkCount int
	TotalSize  int
}

// PartialPolicy decides when enough new audio has arrived for a partial pass
type PartialPolicy struct {
	Interval  time.Duration
	MinChunks int
}

// Options configures a Manager
type Options struct {
	MaxBufferSize int
	MinBufferSize int
	Timeout       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	OnExpire      func(Session)
}

// Manager owns every audio session. All access goes through its accessors;
// callers never keep a *Session across a blocking call.
type Manager struct {
	sessions *registry.Registry[Session]
	opts     Options
}

// NewManager creates a manager with the given limits
func NewManager(opts Options) *Manager {
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = 10 * 1024 * 1024
	}
	if opts.MinBufferSize <= 0 {
		opts.MinBufferSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{opts: opts}
	m.sessions = registry.New(registry.Options[Session]{
		TTL:           opts.Timeout,
		MaxAge:        opts.Timeout,
		SweepInterval: opts.SweepInterval,
		Now:           opts.Now,
		OnExpire: func(_ string, s Session) {
			s.Buffer.Clear()
			if opts.OnExpire != nil {
				opts.OnExpire(s)
			}
		},
	})
	return m
}

// Run drives idle expiry and the safety sweep until ctx is done
func (m *Manager) Run(ctx context.Context) {
	m.sessions.Run(ctx)
}

// Create starts a new recording. Returns false if id is already in use.
func (m *Manager) Create(id string, info Info) bool {
	now := m.opts.Now()
	err := m.sessions.Create(id, Session{
		ID:                id,
		Format:            info.Format,
		OrderSessionID:    info.OrderSessionID,
		ConnectionID:      info.ConnectionID,
		CreatedAt:         now,
		LastTranscribedAt: now,
	})
	return err == nil
}

// Append decodes a base64 chunk and adds it to the session buffer
func (m *Manager) Append(id, base64Chunk string) (AppendResult, error) {
	chunk, err := DecodeChunk(base64Chunk)
	if err != nil {
		return AppendResult{}, err
	}

	var result AppendResult
	err = m.sessions.Update(id, func(s *Session) error {
		if err := s.Buffer.Append(chunk, m.opts.MaxBufferSize); err != nil {
			return err
		}
		result = AppendResult{
			ChunkSize:  len(chunk),
			ChunkCount: s.Buffer.ChunkCount(),
			TotalSize:  s.Buffer.Size(),
		}
		return nil
	})
	if errors.Is(err, registry.ErrNotFound) {
		return AppendResult{}, ErrSessionNotFound
	}
	return result, err
}

// MergeFinal returns every buffered chunk concatenated in append order
func (m *Manager) MergeFinal(id string) ([]byte, error) {
	var merged []byte
	var failure error
	err := m.sessions.View(id, func(s *Session) {
		switch {
		case s.Buffer.ChunkCount() == 0:
			failure = ErrNoAudioData
		case s.Buffer.Size() < m.opts.MinBufferSize:
			failure = ErrBufferTooSmall
		default:
			merged = s.Buffer.Merge()
		}
	})
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return merged, failure
}

// SinceLastCheckpoint returns the audio appended after the last checkpoint and
// the chunk count it extends to. Returns nil if nothing new was appended.
func (m *Manager) SinceLastCheckpoint(id string) ([]byte, int, error) {
	var data []byte
	var upTo int
	err := m.sessions.View(id, func(s *Session) {
		upTo = s.Buffer.ChunkCount()
		data = s.Buffer.Since(s.CheckpointIndex)
	})
	if err != nil {
		return nil, 0, ErrSessionNotFound
	}
	return data, upTo, nil
}

// MarkCheckpoint advances the checkpoint to the current chunk count
func (m *Manager) MarkCheckpoint(id string) error {
	return m.MarkCheckpointAt(id, -1)
}

// MarkCheckpointAt advances the checkpoint to index, or to the current chunk
// count when index is negative. The checkpoint never moves backwards.
func (m *Manager) MarkCheckpointAt(id string, index int) error {
	err := m.sessions.Update(id, func(s *Session) error {
		if index < 0 || index > s.Buffer.ChunkCount() {
			index = s.Buffer.ChunkCount()
		}
		if index > s.CheckpointIndex {
			s.CheckpointIndex = index
		}
		s.LastTranscribedAt = m.opts.Now()
		return nil
	})
	if err != nil {
		return ErrSessionNotFound
	}
	return nil
}

// ClaimPartial atomically checks the partial policy and, when it is met and no
// pass is in flight, marks a pass as in flight. Returns true if the caller
// now owns the pass and must call EndPartial.
func (m *Manager) ClaimPartial(id string, policy PartialPolicy) bool {
	claimed := false
	_ = m.sessions.View(id, func(s *Session) {
		if s.PartialInFlight {
			return
		}
		if m.opts.Now().Sub(s.LastTranscribedAt) < policy.Interval {
			return
		}
		if s.Buffer.ChunkCount()-s.CheckpointIndex < policy.MinChunks {
			return
		}
		s.PartialInFlight = true
		claimed = true
	})
	return claimed
}

// EndPartial clears the in-flight guard. Safe to call after the session is gone.
func (m *Manager) EndPartial(id string) {
	_ = m.sessions.View(id, func(s *Session) {
		s.PartialInFlight = false
	})
}

// PartialInFlight reports whether a partial pass is running for id
func (m *Manager) PartialInFlight(id string) bool {
	inFlight := false
	_ = m.sessions.View(id, func(s *Session) {
		inFlight = s.PartialInFlight
	})
	return inFlight
}

// Stats returns a snapshot of the session metadata
func (m *Manager) Stats(id string) (Stats, bool) {
	var stats Stats
	err := m.sessions.View(id, func(s *Session) {
		stats = Stats{
			Info: Info{
				Format:         s.Format,
				OrderSessionID: s.OrderSessionID,
				ConnectionID:   s.ConnectionID,
			},
			Chunks:          s.Buffer.ChunkCount(),
			Bytes:           s.Buffer.Size(),
			CheckpointIndex: s.CheckpointIndex,
			CreatedAt:       s.CreatedAt,
		}
	})
	return stats, err == nil
}

// Exists reports whether id is a live session
func (m *Manager) Exists(id string) bool {
	_, ok := m.sessions.Get(id)
	return ok
}

// Delete discards the session and its buffered audio
func (m *Manager) Delete(id string) bool {
	s, ok := m.sessions.Delete(id)
	if ok {
		s.Buffer.Clear()
	}
	return ok
}

// DeleteByConnection discards every session owned by a connection
func (m *Manager) DeleteByConnection(connectionID string) []string {
	var removed []string
	for _, id := range m.sessions.Keys() {
		s, ok := m.sessions.Get(id)
		if !ok || s.ConnectionID != connectionID {
			continue
		}
		if m.Delete(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// DecodeChunk decodes a base64 audio chunk, accepting data URLs
func DecodeChunk(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if comma := strings.IndexByte(encoded, ','); comma >= 0 {
			encoded = encoded[comma+1:]
		}
	}
	if encoded == "" {
		return nil, ErrInvalidChunk
	}

	chunk, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidChunk
	}
	if len(chunk) == 0 {
		return nil, ErrInvalidChunk
	}
	return chunk, nil
}
