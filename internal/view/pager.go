// Package view decides which thread columns are on screen: width-based
// pagination over a session's configs, plus lazy history loading for
// whatever just became visible.
package view

import (
	"context"
	"sync"

	"concourse/internal/session"
)

// DefaultMinItemWidth is the narrowest a thread column may render.
const DefaultMinItemWidth = 400

// Loader is the slice of the history loader the pager drives.
type Loader interface {
	EnsureLoaded(ctx context.Context, threadID string) bool
}

// Pager maps a viewport width and a config list onto pages of side-by-side
// thread columns. Page position survives width changes (clamped) but resets
// when the owning session changes.
type Pager struct {
	mu           sync.Mutex
	loader       Loader
	minItemWidth int

	width   int
	page    int
	ownerID string
	items   []session.ThreadConfig
}

func New(loader Loader, minItemWidth int) *Pager {
	if minItemWidth <= 0 {
		minItemWidth = DefaultMinItemWidth
	}
	return &Pager{loader: loader, minItemWidth: minItemWidth}
}

// SetWidth records the viewport width. Shrinking can push the current page
// past the end; it is clamped, never wrapped.
func (p *Pager) SetWidth(width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = width
	p.clampLocked()
}

// SetItems replaces the paged configs. Switching to a different owning
// session resets to the first page; updates within the same session keep the
// position, clamped to the new page count.
func (p *Pager) SetItems(ownerID string, items []session.ThreadConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ownerID != p.ownerID {
		p.page = 0
		p.ownerID = ownerID
	}
	p.items = items
	p.clampLocked()
}

// ItemsPerPage is how many columns fit: at least one, even when the viewport
// is narrower than a single column.
func (p *Pager) ItemsPerPage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perPageLocked()
}

func (p *Pager) TotalPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLocked()
}

func (p *Pager) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

func (p *Pager) NextPage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page++
	p.clampLocked()
}

func (p *Pager) PrevPage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page--
	p.clampLocked()
}

func (p *Pager) SetPage(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page = n
	p.clampLocked()
}

// Visible returns the configs on the current page and kicks off history
// loads for every bound thread it exposes. The load is idempotent, so
// calling this every render is fine.
func (p *Pager) Visible(ctx context.Context) []session.ThreadConfig {
	p.mu.Lock()
	per := p.perPageLocked()
	start := p.page * per
	if start > len(p.items) {
		start = len(p.items)
	}
	end := start + per
	if end > len(p.items) {
		end = len(p.items)
	}
	visible := make([]session.ThreadConfig, end-start)
	copy(visible, p.items[start:end])
	p.mu.Unlock()

	if p.loader != nil {
		for _, cfg := range visible {
			if cfg.BoundThreadID != "" {
				p.loader.EnsureLoaded(ctx, cfg.BoundThreadID)
			}
		}
	}
	return visible
}

func (p *Pager) perPageLocked() int {
	per := p.width / p.minItemWidth
	if per < 1 {
		per = 1
	}
	return per
}

func (p *Pager) totalLocked() int {
	if len(p.items) == 0 {
		return 1
	}
	per := p.perPageLocked()
	return (len(p.items) + per - 1) / per
}

func (p *Pager) clampLocked() {
	if max := p.totalLocked() - 1; p.page > max {
		p.page = max
	}
	if p.page < 0 {
		p.page = 0
	}
}
