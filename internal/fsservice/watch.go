package fsservice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchEvent is delivered to a watch subscriber after debouncing.
type WatchEvent struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

type clientWatchers struct {
	byPath map[string]*pathWatch
}

type pathWatch struct {
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stop    chan struct{}
}

// watcherSet tracks watchers per client id, enforcing spec.md §4.5's
// "max 50 watchers per client" and "a disconnected client's watchers are
// all removed" rules, and debounces events per path by watchDebounce ms.
type watcherSet struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientWatchers
}

func newWatcherSet(log *slog.Logger) *watcherSet {
	return &watcherSet{log: log, clients: make(map[string]*clientWatchers)}
}

// Watch starts watching abs for a client, invoking emit (debounced) on
// change. Returns errWatchLimit if the client already has 50 watchers.
func (s *Service) Watch(clientID, path string, emit func(WatchEvent)) error {
	abs, _, err := s.resolver.ResolveExisting(path)
	if err != nil {
		return err
	}
	return s.watchers.add(clientID, path, abs, emit)
}

// Unwatch stops watching path for clientID.
func (s *Service) Unwatch(clientID, path string) error {
	return s.watchers.remove(clientID, path)
}

// UnwatchAll removes every watcher registered for clientID (called on
// client disconnect).
func (s *Service) UnwatchAll(clientID string) {
	s.watchers.removeClient(clientID)
}

func (w *watcherSet) add(clientID, relPath, abs string, emit func(WatchEvent)) error {
	w.mu.Lock()
	cw, ok := w.clients[clientID]
	if !ok {
		cw = &clientWatchers{byPath: make(map[string]*pathWatch)}
		w.clients[clientID] = cw
	}
	if _, exists := cw.byPath[relPath]; exists {
		w.mu.Unlock()
		return nil
	}
	if len(cw.byPath) >= maxWatchersPerClient {
		w.mu.Unlock()
		return errWatchLimit()
	}
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return err
	}

	pw := &pathWatch{watcher: fsw, stop: make(chan struct{})}

	w.mu.Lock()
	cw.byPath[relPath] = pw
	w.mu.Unlock()

	go w.pump(pw, relPath, emit)
	return nil
}

func (w *watcherSet) pump(pw *pathWatch, relPath string, emit func(WatchEvent)) {
	var mu sync.Mutex
	var pending *fsnotify.Event

	flush := func() {
		mu.Lock()
		ev := pending
		pending = nil
		mu.Unlock()
		if ev != nil {
			emit(WatchEvent{Path: relPath, Op: ev.Op.String()})
		}
	}

	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			mu.Lock()
			pending = &ev
			mu.Unlock()
			if pw.timer == nil {
				pw.timer = time.AfterFunc(watchDebounce*time.Millisecond, flush)
			} else {
				pw.timer.Reset(watchDebounce * time.Millisecond)
			}
		case _, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
		case <-pw.stop:
			return
		}
	}
}

func (w *watcherSet) remove(clientID, relPath string) error {
	w.mu.Lock()
	cw, ok := w.clients[clientID]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	pw, ok := cw.byPath[relPath]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	delete(cw.byPath, relPath)
	w.mu.Unlock()

	close(pw.stop)
	if pw.timer != nil {
		pw.timer.Stop()
	}
	return pw.watcher.Close()
}

func (w *watcherSet) removeClient(clientID string) {
	w.mu.Lock()
	cw, ok := w.clients[clientID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.clients, clientID)
	watches := make([]*pathWatch, 0, len(cw.byPath))
	for _, pw := range cw.byPath {
		watches = append(watches, pw)
	}
	w.mu.Unlock()

	for _, pw := range watches {
		close(pw.stop)
		if pw.timer != nil {
			pw.timer.Stop()
		}
		pw.watcher.Close()
	}
}

func (w *watcherSet) closeAll() error {
	w.mu.Lock()
	clientIDs := make([]string, 0, len(w.clients))
	for id := range w.clients {
		clientIDs = append(clientIDs, id)
	}
	w.mu.Unlock()

	for _, id := range clientIDs {
		w.removeClient(id)
	}
	return nil
}
