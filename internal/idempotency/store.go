package idempotency

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Record is one idempotency key. Response is empty while the request is still in flight.
type Record struct {
	ExpiresAt int64           `json:"expires_at"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type ProcessedKeys struct {
	Keys map[string]Record `json:"keys"`
}

// Store remembers chat responses by client supplied key so that retried requests replay the
// first result instead of running tools again. Completed records are persisted atomically.
type Store struct {
	path  string
	state ProcessedKeys
	mu    sync.RWMutex
	now   func() time.Time
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		state: ProcessedKeys{
			Keys: make(map[string]Record),
		},
		now: time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return err
	}
	if s.state.Keys == nil {
		s.state.Keys = make(map[string]Record)
	}
	// In-flight reservations do not survive a restart.
	for k, rec := range s.state.Keys {
		if len(rec.Response) == 0 {
			delete(s.state.Keys, k)
		}
	}
	return nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Lookup returns the stored response for an unexpired, completed key.
func (s *Store) Lookup(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.state.Keys[key]
	if !ok || rec.ExpiresAt <= s.now().Unix() || len(rec.Response) == 0 {
		return nil, false
	}
	return rec.Response, true
}

// CheckAndMark reserves key for ttl. It reports true when the key is already reserved or
// completed and not expired.
func (s *Store) CheckAndMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	if rec, exists := s.state.Keys[key]; exists {
		if rec.ExpiresAt > now {
			return true
		}
		delete(s.state.Keys, key)
	}

	s.state.Keys[key] = Record{ExpiresAt: now + int64(ttl.Seconds())}
	return false
}

// Complete stores the response of a reserved key and persists the store.
func (s *Store) Complete(key string, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.state.Keys[key]
	if !ok {
		return nil
	}
	rec.Response = append(json.RawMessage(nil), response...)
	s.state.Keys[key] = rec
	return s.save()
}

// Release drops a reservation whose request failed, so the client may retry.
func (s *Store) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.state.Keys[key]; ok && len(rec.Response) == 0 {
		delete(s.state.Keys, key)
	}
}

func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	count := 0
	for k, rec := range s.state.Keys {
		if rec.ExpiresAt < now {
			delete(s.state.Keys, k)
			count++
		}
	}
	return count
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Keys)
}
