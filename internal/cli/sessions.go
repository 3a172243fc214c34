package cli

import (
	"fmt"
	"io"
	"time"

	"concourse/internal/session"
	"concourse/internal/timeutil"
)

// ListSessions prints every saved session with its config summary, newest
// first.
func ListSessions(out io.Writer, store *session.Store) error {
	sessions := store.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions yet")
		return nil
	}

	active := store.ActiveSessionID()
	now := time.Now()
	for _, sess := range sessions {
		marker := "  "
		if sess.ID == active {
			marker = "* "
		}
		enabled := 0
		for _, cfg := range sess.Configs {
			if cfg.Enabled {
				enabled++
			}
		}
		fmt.Fprintf(out, "%s%s  %d config(s), %d enabled, updated %s\n",
			marker, sess.Title, len(sess.Configs), enabled,
			timeutil.FormatRelativeTime(sess.LastUpdatedAt, now))
		for _, cfg := range sess.OrderedConfigs() {
			state := "on"
			if !cfg.Enabled {
				state = "off"
			}
			fmt.Fprintf(out, "    %s [%s] %d module(s)\n", cfg.Name, state, len(cfg.Modules))
		}
	}
	return nil
}

// DeleteSession removes a saved session by id.
func DeleteSession(out io.Writer, store *session.Store, sessionID string) error {
	if err := store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Fprintf(out, "Deleted session %s\n", sessionID)
	return nil
}
