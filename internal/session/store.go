package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"concourse/internal/pubsub"
)

// ErrNotFound indicates the referenced session, thread config, or module is
// absent. The store logs the miss and leaves its state untouched; callers
// treat it as a local no-op, never as fatal.
var ErrNotFound = errors.New("session: not found")

// Persister is the durable side of the store. All methods are best-effort
// from the store's perspective: a persistence failure is logged, not raised,
// so local UI state stays consistent.
type Persister interface {
	SaveSession(Session) error
	DeleteSession(sessionID string) error
	SaveActiveSession(sessionID string) error
	LoadAll() (sessions []Session, activeID string, err error)
}

// Store holds the sessions in memory and mirrors every mutation to the
// persister. Mutations are synchronous; they only race with other local UI
// actions, never with the network. Session values are copy-on-write: readers
// receive clones and can never alias live state.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	activeID string

	persist Persister
	broker  *pubsub.Broker[string]
	version atomic.Uint64
}

// NewStore builds a store, loading prior state from persist when provided.
func NewStore(persist Persister) (*Store, error) {
	s := &Store{
		sessions: make(map[string]Session),
		persist:  persist,
		broker:   pubsub.NewBroker[string](),
	}
	if persist != nil {
		sessions, activeID, err := persist.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load sessions: %w", err)
		}
		for _, sess := range sessions {
			s.sessions[sess.ID] = sess
		}
		if _, ok := s.sessions[activeID]; ok {
			s.activeID = activeID
		}
	}
	return s, nil
}

// Subscribe yields the id of each session that mutated.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	return s.broker.Subscribe(ctx)
}

// Shutdown closes all subscriber channels.
func (s *Store) Shutdown() {
	s.broker.Shutdown()
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// CreateSession adds a session and makes it active if none is.
func (s *Store) CreateSession(title string) Session {
	title = strings.TrimSpace(title)
	if title == "" {
		title = time.Now().Format("Jan 2, 3:04 PM")
	}
	now := time.Now()
	sess := Session{
		ID:            uuid.NewString(),
		Title:         title,
		Configs:       make(map[string]ThreadConfig),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	if s.activeID == "" {
		s.activeID = sess.ID
		s.saveActiveLocked()
	}
	s.saveLocked(sess)
	s.mu.Unlock()

	s.bump(sess.ID, pubsub.CreatedEvent)
	return sess.clone()
}

// Session returns a clone of the session with the given id.
func (s *Store) Session(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Sessions returns clones of all sessions, most recently updated first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
	})
	return out
}

// ActiveSessionID returns the id of the active session, or empty.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActiveSession switches the active session.
func (s *Store) SetActiveSession(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return s.miss("set active session", sessionID)
	}
	s.activeID = sessionID
	s.saveActiveLocked()
	s.mu.Unlock()

	s.bump(sessionID, pubsub.UpdatedEvent)
	return nil
}

// DeleteSession removes a session. Deleting the active session clears the
// active id.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return s.miss("delete session", sessionID)
	}
	delete(s.sessions, sessionID)
	if s.activeID == sessionID {
		s.activeID = ""
		s.saveActiveLocked()
	}
	if s.persist != nil {
		if err := s.persist.DeleteSession(sessionID); err != nil {
			log.Printf("session: delete %s not persisted: %v", sessionID, err)
		}
	}
	s.mu.Unlock()

	s.bump(sessionID, pubsub.DeletedEvent)
	return nil
}

// AddThreadConfig creates an empty, enabled thread config with an
// auto-generated name and returns its id.
func (s *Store) AddThreadConfig(sessionID string) (string, error) {
	configID := uuid.NewString()
	err := s.mutate("add thread config", sessionID, func(sess *Session) error {
		sess.Configs[configID] = ThreadConfig{
			ID:        configID,
			Name:      fmt.Sprintf("Config %d", len(sess.Configs)+1),
			Enabled:   true,
			CreatedAt: time.Now(),
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return configID, nil
}

// DeleteThreadConfig removes a thread config from its session.
func (s *Store) DeleteThreadConfig(sessionID, configID string) error {
	return s.mutate("delete thread config", sessionID, func(sess *Session) error {
		if _, ok := sess.Configs[configID]; !ok {
			return ErrNotFound
		}
		delete(sess.Configs, configID)
		return nil
	})
}

// SetModuleLevel upserts the module on the config at the given level. The
// level is clamped to the valid range. Fails with ErrNotFound when the
// session or config is absent.
func (s *Store) SetModuleLevel(sessionID, configID, moduleID string, level int) error {
	return s.withConfig("set module level", sessionID, configID, func(cfg *ThreadConfig) error {
		level = ClampLevel(level)
		for i := range cfg.Modules {
			if cfg.Modules[i].ModuleID == moduleID {
				cfg.Modules[i].Level = level
				return nil
			}
		}
		cfg.Modules = append(cfg.Modules, ConfiguredModule{ModuleID: moduleID, Title: moduleID, Level: level})
		return nil
	})
}

// ToggleModule adds the module at the default level or removes it. The title
// is kept for display when adding.
func (s *Store) ToggleModule(sessionID, configID, moduleID, title string, present bool) error {
	return s.withConfig("toggle module", sessionID, configID, func(cfg *ThreadConfig) error {
		idx := -1
		for i := range cfg.Modules {
			if cfg.Modules[i].ModuleID == moduleID {
				idx = i
				break
			}
		}
		switch {
		case present && idx < 0:
			if strings.TrimSpace(title) == "" {
				title = moduleID
			}
			cfg.Modules = append(cfg.Modules, ConfiguredModule{ModuleID: moduleID, Title: title, Level: DefaultLevel})
		case !present && idx >= 0:
			cfg.Modules = append(cfg.Modules[:idx], cfg.Modules[idx+1:]...)
		}
		return nil
	})
}

// SetEnabled flips whether the config participates in fan-out dispatches.
// Its module list survives re-enabling unchanged.
func (s *Store) SetEnabled(sessionID, configID string, enabled bool) error {
	return s.withConfig("set enabled", sessionID, configID, func(cfg *ThreadConfig) error {
		cfg.Enabled = enabled
		return nil
	})
}

// Rename changes a config's display name.
func (s *Store) Rename(sessionID, configID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("session: config name cannot be empty")
	}
	return s.withConfig("rename", sessionID, configID, func(cfg *ThreadConfig) error {
		cfg.Name = name
		return nil
	})
}

// RenameSession changes a session's title.
func (s *Store) RenameSession(sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("session: session title cannot be empty")
	}
	return s.mutate("rename session", sessionID, func(sess *Session) error {
		sess.Title = title
		return nil
	})
}

// BindThread records the backend thread id a config's runs continue on.
func (s *Store) BindThread(sessionID, configID, threadID string) error {
	return s.withConfig("bind thread", sessionID, configID, func(cfg *ThreadConfig) error {
		cfg.BoundThreadID = strings.TrimSpace(threadID)
		return nil
	})
}

// BindThreadByConfig binds without knowing the owning session, for callers
// that only see config ids (the run dispatcher's rebind hook).
func (s *Store) BindThreadByConfig(configID, threadID string) error {
	s.mu.Lock()
	sessionID := ""
	for id, sess := range s.sessions {
		if _, ok := sess.Configs[configID]; ok {
			sessionID = id
			break
		}
	}
	s.mu.Unlock()
	if sessionID == "" {
		return s.miss("bind thread", configID)
	}
	return s.BindThread(sessionID, configID, threadID)
}

// mutate clones the session, applies fn to the clone, and swaps it in. Every
// successful mutation touches LastUpdatedAt, persists, and notifies.
func (s *Store) mutate(op, sessionID string, fn func(*Session) error) error {
	s.mu.Lock()
	current, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return s.miss(op, sessionID)
	}
	next := current.clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrNotFound) {
			return s.miss(op, sessionID)
		}
		return err
	}
	next.LastUpdatedAt = time.Now()
	s.sessions[sessionID] = next
	s.saveLocked(next)
	s.mu.Unlock()

	s.bump(sessionID, pubsub.UpdatedEvent)
	return nil
}

func (s *Store) withConfig(op, sessionID, configID string, fn func(*ThreadConfig) error) error {
	return s.mutate(op, sessionID, func(sess *Session) error {
		cfg, ok := sess.Configs[configID]
		if !ok {
			return ErrNotFound
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		sess.Configs[configID] = cfg
		return nil
	})
}

func (s *Store) saveLocked(sess Session) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveSession(sess); err != nil {
		log.Printf("session: save %s not persisted: %v", sess.ID, err)
	}
}

func (s *Store) saveActiveLocked() {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveActiveSession(s.activeID); err != nil {
		log.Printf("session: active session not persisted: %v", err)
	}
}

func (s *Store) miss(op, sessionID string) error {
	log.Printf("session: %s: %s not found, ignored", op, sessionID)
	return ErrNotFound
}

func (s *Store) bump(sessionID string, eventType pubsub.EventType) {
	s.version.Add(1)
	s.broker.Publish(eventType, sessionID)
}
