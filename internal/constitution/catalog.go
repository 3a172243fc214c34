// Package constitution manages the policy documents a thread config can
// reference: global documents served by the backend plus locally authored
// ones persisted in sqlite.
package constitution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"concourse/internal/backend"
)

// Scope says where a document lives.
type Scope string

const (
	Local  Scope = "local"
	Global Scope = "global"
)

// Module is one catalog entry. Body is populated lazily for global modules.
type Module struct {
	ID        string
	Title     string
	Scope     Scope
	Body      string
	CreatedAt time.Time
}

// Remote is the slice of the backend client the catalog needs.
type Remote interface {
	ListConstitutions(ctx context.Context) ([]backend.ConstitutionRef, error)
	FetchConstitution(ctx context.Context, moduleID string) (string, error)
	SubmitConstitution(ctx context.Context, text, visibility string) (backend.SubmitResult, error)
}

// Catalog merges local and global constitution modules behind one lookup.
// Fetched global bodies are cached for the catalog's lifetime; local bodies
// are always served from sqlite.
type Catalog struct {
	db     *sql.DB
	remote Remote

	mu     sync.Mutex
	global []backend.ConstitutionRef
	listed bool
	bodies map[string]string
}

func NewCatalog(db *sql.DB, remote Remote) *Catalog {
	return &Catalog{
		db:     db,
		remote: remote,
		bodies: make(map[string]string),
	}
}

// Modules lists everything selectable: local modules first, then the global
// ones, each group sorted by title. A failing backend degrades to the local
// list rather than erroring the whole catalog.
func (c *Catalog) Modules(ctx context.Context) ([]Module, error) {
	local, err := c.localModules(ctx)
	if err != nil {
		return nil, err
	}

	refs, err := c.globalRefs(ctx)
	if err != nil {
		log.Printf("constitution: listing global modules: %v", err)
		return local, nil
	}
	for _, ref := range refs {
		local = append(local, Module{ID: ref.ID, Title: ref.Title, Scope: Global})
	}
	return local, nil
}

// Content returns a module's full text. Failures come back as a displayable
// string with ok=false instead of an error, so a broken fetch renders as a
// message in the document pane.
func (c *Catalog) Content(ctx context.Context, moduleID string) (string, bool) {
	if m, err := c.localModule(ctx, moduleID); err == nil {
		return m.Body, true
	}

	c.mu.Lock()
	if body, ok := c.bodies[moduleID]; ok {
		c.mu.Unlock()
		return body, true
	}
	c.mu.Unlock()

	body, err := c.remote.FetchConstitution(ctx, moduleID)
	if err != nil {
		return fmt.Sprintf("failed to load constitution %s: %v", moduleID, err), false
	}
	c.mu.Lock()
	c.bodies[moduleID] = body
	c.mu.Unlock()
	return body, true
}

// AddLocal stores a locally authored document and returns its catalog entry.
func (c *Catalog) AddLocal(ctx context.Context, title, body string) (Module, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Module{}, fmt.Errorf("constitution title cannot be empty")
	}
	m := Module{
		ID:        "local-" + uuid.NewString(),
		Title:     title,
		Scope:     Local,
		Body:      body,
		CreatedAt: time.Now(),
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO local_constitutions (id, title, body, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.Title, m.Body, m.CreatedAt.UnixMilli())
	if err != nil {
		return Module{}, fmt.Errorf("saving local constitution: %w", err)
	}
	return m, nil
}

// DeleteLocal removes a locally authored document. Deleting an unknown id is
// a no-op.
func (c *Catalog) DeleteLocal(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM local_constitutions WHERE id = ?`, id)
	return err
}

// Submit uploads a document for review on the backend.
func (c *Catalog) Submit(ctx context.Context, text, visibility string) (backend.SubmitResult, error) {
	if strings.TrimSpace(text) == "" {
		return backend.SubmitResult{}, fmt.Errorf("constitution text cannot be empty")
	}
	return c.remote.SubmitConstitution(ctx, text, visibility)
}

// Refresh drops the cached global listing so the next Modules call hits the
// backend again.
func (c *Catalog) Refresh() {
	c.mu.Lock()
	c.global = nil
	c.listed = false
	c.mu.Unlock()
}

func (c *Catalog) globalRefs(ctx context.Context) ([]backend.ConstitutionRef, error) {
	c.mu.Lock()
	if c.listed {
		refs := c.global
		c.mu.Unlock()
		return refs, nil
	}
	c.mu.Unlock()

	refs, err := c.remote.ListConstitutions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Title < refs[j].Title })

	// An empty listing is still a listing; don't refetch on every call.
	c.mu.Lock()
	c.global = refs
	c.listed = true
	c.mu.Unlock()
	return refs, nil
}

func (c *Catalog) localModules(ctx context.Context) ([]Module, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, title, body, created_at FROM local_constitutions ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("listing local constitutions: %w", err)
	}
	defer rows.Close()

	var out []Module
	for rows.Next() {
		var m Module
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Title, &m.Body, &createdAt); err != nil {
			return nil, err
		}
		m.Scope = Local
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *Catalog) localModule(ctx context.Context, id string) (Module, error) {
	var m Module
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT id, title, body, created_at FROM local_constitutions WHERE id = ?`, id).
		Scan(&m.ID, &m.Title, &m.Body, &createdAt)
	if err != nil {
		return Module{}, err
	}
	m.Scope = Local
	m.CreatedAt = time.UnixMilli(createdAt)
	return m, nil
}
