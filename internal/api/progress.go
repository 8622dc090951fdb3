package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// progressTTL keeps progress documents around long enough for a client to
// poll a finished session, without accumulating state for abandoned ones.
const progressTTL = time.Hour

// Session lifecycle states reported through the progress document.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Progress is the document polled by the presentation layer while a
// cleaning session runs. It is the only session state that leaves process
// memory, and it carries counters, never addresses.
type Progress struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Percent     float64   `json:"percent"`
	Candidates  int       `json:"candidates"`
	Verified    int       `json:"verified"`
	CreditsUsed int       `json:"credits_used"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgressStore tracks session progress in Redis so any replica can answer
// a poll regardless of which one runs the session.
type ProgressStore struct {
	redis *redis.Client
}

// NewProgressStore creates a Redis-backed progress store.
func NewProgressStore(client *redis.Client) *ProgressStore {
	return &ProgressStore{redis: client}
}

func (s *ProgressStore) key(sessionID string) string {
	return "clean:progress:" + sessionID
}

// Set writes the progress document, refreshing its TTL.
func (s *ProgressStore) Set(ctx context.Context, p *Progress) error {
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(p.SessionID), data, progressTTL).Err(); err != nil {
		return fmt.Errorf("store progress: %w", err)
	}
	return nil
}

// Get returns the progress document, or nil when the session is unknown
// or expired.
func (s *ProgressStore) Get(ctx context.Context, sessionID string) (*Progress, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}
