package acp

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is the ACP bridge's on-disk persistence (spec.md §4.3
// "Persistence"): sessions.json, one append-only thread file per session,
// threads/index.json, and modes.json. Every write is best-effort — a
// failure is logged but never fails the operation that triggered it.
type Store struct {
	dir string
	mu  sync.Mutex

	sessions      []string
	lastSessionID string
	threadIndex   map[string]ThreadSummary
	modes         map[string]string
}

// ThreadSummary is one entry of threads/index.json.
type ThreadSummary struct {
	SessionID    string    `json:"sessionId"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
	MessageCount int       `json:"messageCount"`
}

type sessionsFile struct {
	Sessions      []string `json:"sessions"`
	LastSessionID string   `json:"lastSessionId"`
}

// OpenStore loads persisted state from dir (default `./.on-the-go/acp/`),
// creating it if absent.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "threads"), 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, threadIndex: make(map[string]ThreadSummary), modes: make(map[string]string)}

	var sf sessionsFile
	if err := readJSONFile(filepath.Join(dir, "sessions.json"), &sf); err == nil {
		s.sessions = sf.Sessions
		s.lastSessionID = sf.LastSessionID
	}
	var idx struct {
		Threads []ThreadSummary `json:"threads"`
	}
	if err := readJSONFile(filepath.Join(dir, "threads", "index.json"), &idx); err == nil {
		for _, t := range idx.Threads {
			s.threadIndex[t.SessionID] = t
		}
	}
	var modes map[string]string
	if err := readJSONFile(filepath.Join(dir, "modes.json"), &modes); err == nil {
		s.modes = modes
	}
	return s, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSONFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RecordSession appends a new session id (if not already known) and sets
// it as the last-selected session, rewriting sessions.json atomically.
func (s *Store) RecordSession(sessionID string) {
	s.mu.Lock()
	found := false
	for _, id := range s.sessions {
		if id == sessionID {
			found = true
			break
		}
	}
	if !found {
		s.sessions = append(s.sessions, sessionID)
	}
	s.lastSessionID = sessionID
	sf := sessionsFile{Sessions: append([]string(nil), s.sessions...), LastSessionID: s.lastSessionID}
	s.mu.Unlock()

	if err := writeJSONFileAtomic(filepath.Join(s.dir, "sessions.json"), sf); err != nil {
		slog.Warn("acp: failed to persist sessions.json", "error", err)
	}
}

// DeleteSession removes a session id from the known set.
func (s *Store) DeleteSession(sessionID string) {
	s.mu.Lock()
	out := s.sessions[:0]
	for _, id := range s.sessions {
		if id != sessionID {
			out = append(out, id)
		}
	}
	s.sessions = out
	if s.lastSessionID == sessionID {
		s.lastSessionID = ""
	}
	delete(s.threadIndex, sessionID)
	delete(s.modes, sessionID)
	sf := sessionsFile{Sessions: append([]string(nil), s.sessions...), LastSessionID: s.lastSessionID}
	s.mu.Unlock()

	if err := writeJSONFileAtomic(filepath.Join(s.dir, "sessions.json"), sf); err != nil {
		slog.Warn("acp: failed to persist sessions.json", "error", err)
	}
}

// Sessions returns the known session ids and the last-selected one
// (spec.md §4.3 `sessions.list` / `session.last`).
func (s *Store) Sessions() (ids []string, lastID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessions...), s.lastSessionID
}

// AppendThreadEvent appends one timestamped JSON object to
// threads/<sessionId>.json and refreshes that session's index entry
// (spec.md §4.3 "append-only transcript; one JSON object per session/update
// event, with a timestamp").
func (s *Store) AppendThreadEvent(sessionID string, update SessionUpdate) {
	entry := struct {
		Timestamp time.Time     `json:"timestamp"`
		Update    SessionUpdate `json:"update"`
	}{Timestamp: time.Now(), Update: update}

	line, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("acp: failed to marshal thread event", "session", sessionID, "error", err)
		return
	}

	path := filepath.Join(s.dir, "threads", sessionID+".json")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("acp: failed to open thread file", "session", sessionID, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("acp: failed to append thread event", "session", sessionID, "error", err)
	}

	s.mu.Lock()
	summary, ok := s.threadIndex[sessionID]
	now := time.Now()
	if !ok {
		summary = ThreadSummary{SessionID: sessionID, FirstSeen: now}
	}
	summary.LastSeen = now
	summary.MessageCount++
	s.threadIndex[sessionID] = summary
	threads := make([]ThreadSummary, 0, len(s.threadIndex))
	for _, t := range s.threadIndex {
		threads = append(threads, t)
	}
	s.mu.Unlock()

	idxPath := filepath.Join(s.dir, "threads", "index.json")
	if err := writeJSONFileAtomic(idxPath, struct {
		Threads []ThreadSummary `json:"threads"`
	}{threads}); err != nil {
		slog.Warn("acp: failed to persist threads/index.json", "error", err)
	}
}

// ThreadSummaries returns every known thread's index entry.
func (s *Store) ThreadSummaries() []ThreadSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ThreadSummary, 0, len(s.threadIndex))
	for _, t := range s.threadIndex {
		out = append(out, t)
	}
	return out
}

// SetMode records the last-selected mode for a session (spec.md §4.3
// `session.setMode`), rewriting modes.json atomically.
func (s *Store) SetMode(sessionID, modeID string) {
	s.mu.Lock()
	s.modes[sessionID] = modeID
	modes := make(map[string]string, len(s.modes))
	for k, v := range s.modes {
		modes[k] = v
	}
	s.mu.Unlock()

	if err := writeJSONFileAtomic(filepath.Join(s.dir, "modes.json"), modes); err != nil {
		slog.Warn("acp: failed to persist modes.json", "error", err)
	}
}

// Mode returns the last-selected mode for a session, if any.
func (s *Store) Mode(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modes[sessionID]
	return m, ok
}
