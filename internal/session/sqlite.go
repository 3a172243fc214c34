package session

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore persists sessions, their thread configs, and the active session
// id. It implements Persister.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const activeSessionKey = "active_session_id"

// SaveSession writes the full session row set in one transaction: the session
// row, its configs, and their modules. Replacing the child rows wholesale
// keeps the write simple and the snapshot consistent.
func (s *SQLiteStore) SaveSession(sess Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions(id, title, created_at, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		sess.ID, sess.Title, sess.CreatedAt.Unix(), sess.LastUpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save session row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM thread_configs WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear thread configs: %w", err)
	}

	for _, cfg := range sess.OrderedConfigs() {
		_, err = tx.Exec(
			`INSERT INTO thread_configs(id, session_id, name, enabled, bound_thread_id, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			cfg.ID, sess.ID, cfg.Name, cfg.Enabled, cfg.BoundThreadID, cfg.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("save thread config: %w", err)
		}
		for pos, mod := range cfg.Modules {
			_, err = tx.Exec(
				`INSERT INTO config_modules(config_id, module_id, title, level, position)
				 VALUES(?, ?, ?, ?, ?)`,
				cfg.ID, mod.ModuleID, mod.Title, mod.Level, pos)
			if err != nil {
				return fmt.Errorf("save config module: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) SaveActiveSession(sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_state(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		activeSessionKey, sessionID)
	return err
}

// LoadAll restores every session with its configs and modules, plus the
// active session id.
func (s *SQLiteStore) LoadAll() ([]Session, string, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	byID := make(map[string]Session)
	for rows.Next() {
		var sess Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
			return nil, "", err
		}
		sess.CreatedAt = time.Unix(created, 0)
		sess.LastUpdatedAt = time.Unix(updated, 0)
		sess.Configs = make(map[string]ThreadConfig)
		byID[sess.ID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if err := s.loadConfigs(byID); err != nil {
		return nil, "", err
	}

	var activeID string
	err = s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, activeSessionKey).Scan(&activeID)
	if err != nil && err != sql.ErrNoRows {
		return nil, "", err
	}

	out := make([]Session, 0, len(byID))
	for _, sess := range byID {
		out = append(out, sess)
	}
	return out, activeID, nil
}

func (s *SQLiteStore) loadConfigs(byID map[string]Session) error {
	rows, err := s.db.Query(
		`SELECT id, session_id, name, enabled, bound_thread_id, created_at FROM thread_configs`)
	if err != nil {
		return err
	}
	defer rows.Close()

	configSession := make(map[string]string)
	for rows.Next() {
		var cfg ThreadConfig
		var sessionID string
		var created int64
		if err := rows.Scan(&cfg.ID, &sessionID, &cfg.Name, &cfg.Enabled, &cfg.BoundThreadID, &created); err != nil {
			return err
		}
		cfg.CreatedAt = time.Unix(0, created)
		sess, ok := byID[sessionID]
		if !ok {
			continue
		}
		sess.Configs[cfg.ID] = cfg
		configSession[cfg.ID] = sessionID
	}
	if err := rows.Err(); err != nil {
		return err
	}

	modRows, err := s.db.Query(
		`SELECT config_id, module_id, title, level FROM config_modules ORDER BY config_id, position`)
	if err != nil {
		return err
	}
	defer modRows.Close()

	for modRows.Next() {
		var configID string
		var mod ConfiguredModule
		if err := modRows.Scan(&configID, &mod.ModuleID, &mod.Title, &mod.Level); err != nil {
			return err
		}
		sessionID, ok := configSession[configID]
		if !ok {
			continue
		}
		sess := byID[sessionID]
		cfg := sess.Configs[configID]
		cfg.Modules = append(cfg.Modules, mod)
		sess.Configs[configID] = cfg
	}
	return modRows.Err()
}
