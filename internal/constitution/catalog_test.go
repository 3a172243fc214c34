package constitution

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"concourse/internal/backend"
	"concourse/internal/storage"
)

type fakeRemote struct {
	refs      []backend.ConstitutionRef
	bodies    map[string]string
	listErr   error
	fetchErr  error
	lists     int
	fetches   int
	submitted []string
}

func (r *fakeRemote) ListConstitutions(context.Context) ([]backend.ConstitutionRef, error) {
	r.lists++
	return r.refs, r.listErr
}

func (r *fakeRemote) FetchConstitution(_ context.Context, moduleID string) (string, error) {
	r.fetches++
	if r.fetchErr != nil {
		return "", r.fetchErr
	}
	body, ok := r.bodies[moduleID]
	if !ok {
		return "", errors.New("no such module")
	}
	return body, nil
}

func (r *fakeRemote) SubmitConstitution(_ context.Context, text, visibility string) (backend.SubmitResult, error) {
	r.submitted = append(r.submitted, text)
	return backend.SubmitResult{Status: "pending_review", Message: "received"}, nil
}

func testCatalog(t *testing.T, remote *fakeRemote) *Catalog {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "concourse.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCatalog(db, remote)
}

func TestModulesMergesLocalAndGlobal(t *testing.T) {
	remote := &fakeRemote{refs: []backend.ConstitutionRef{
		{ID: "g2", Title: "Zeta policy"},
		{ID: "g1", Title: "Alpha policy"},
	}}
	cat := testCatalog(t, remote)
	ctx := context.Background()

	if _, err := cat.AddLocal(ctx, "House rules", "be kind"); err != nil {
		t.Fatalf("AddLocal: %v", err)
	}

	mods, err := cat.Modules(ctx)
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(mods) != 3 {
		t.Fatalf("got %d modules, want 3", len(mods))
	}
	if mods[0].Scope != Local || mods[0].Title != "House rules" {
		t.Errorf("first module = %+v, want the local one", mods[0])
	}
	// Global refs come back title-sorted.
	if mods[1].Title != "Alpha policy" || mods[2].Title != "Zeta policy" {
		t.Errorf("global order = %q, %q", mods[1].Title, mods[2].Title)
	}
}

func TestModulesDegradesWhenBackendUnavailable(t *testing.T) {
	remote := &fakeRemote{listErr: errors.New("connection refused")}
	cat := testCatalog(t, remote)
	ctx := context.Background()

	if _, err := cat.AddLocal(ctx, "Local only", "text"); err != nil {
		t.Fatalf("AddLocal: %v", err)
	}
	mods, err := cat.Modules(ctx)
	if err != nil {
		t.Fatalf("Modules should not fail on backend error: %v", err)
	}
	if len(mods) != 1 || mods[0].Scope != Local {
		t.Errorf("modules = %+v, want the local entry alone", mods)
	}
}

func TestContentPrefersLocalAndCachesGlobal(t *testing.T) {
	remote := &fakeRemote{bodies: map[string]string{"g1": "global body"}}
	cat := testCatalog(t, remote)
	ctx := context.Background()

	local, err := cat.AddLocal(ctx, "Mine", "local body")
	if err != nil {
		t.Fatalf("AddLocal: %v", err)
	}

	if body, ok := cat.Content(ctx, local.ID); !ok || body != "local body" {
		t.Errorf("local content = %q, %v", body, ok)
	}
	if remote.fetches != 0 {
		t.Errorf("local lookup hit the backend %d times", remote.fetches)
	}

	for i := 0; i < 2; i++ {
		if body, ok := cat.Content(ctx, "g1"); !ok || body != "global body" {
			t.Errorf("global content = %q, %v", body, ok)
		}
	}
	if remote.fetches != 1 {
		t.Errorf("global body fetched %d times, want 1 (cached)", remote.fetches)
	}
}

func TestContentFailureIsDisplayable(t *testing.T) {
	remote := &fakeRemote{fetchErr: errors.New("504 gateway timeout")}
	cat := testCatalog(t, remote)

	body, ok := cat.Content(context.Background(), "g-missing")
	if ok {
		t.Fatal("expected ok=false for failed fetch")
	}
	if !strings.Contains(body, "g-missing") || !strings.Contains(body, "504") {
		t.Errorf("failure text = %q", body)
	}
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	remote := &fakeRemote{}
	cat := testCatalog(t, remote)

	if _, err := cat.Submit(context.Background(), "   ", "private"); err == nil {
		t.Fatal("expected error for blank submission")
	}
	res, err := cat.Submit(context.Background(), "real text", "private")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != "pending_review" {
		t.Errorf("status = %q", res.Status)
	}
}

func TestDeleteLocal(t *testing.T) {
	cat := testCatalog(t, &fakeRemote{listErr: errors.New("offline")})
	ctx := context.Background()

	m, err := cat.AddLocal(ctx, "Temp", "x")
	if err != nil {
		t.Fatalf("AddLocal: %v", err)
	}
	if err := cat.DeleteLocal(ctx, m.ID); err != nil {
		t.Fatalf("DeleteLocal: %v", err)
	}
	mods, err := cat.Modules(ctx)
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(mods) != 0 {
		t.Errorf("modules after delete = %+v", mods)
	}
}

func TestEmptyGlobalListingIsCached(t *testing.T) {
	remote := &fakeRemote{}
	cat := testCatalog(t, remote)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cat.Modules(ctx); err != nil {
			t.Fatalf("Modules #%d: %v", i+1, err)
		}
	}
	if remote.lists != 1 {
		t.Errorf("backend listed %d times, want 1", remote.lists)
	}

	cat.Refresh()
	if _, err := cat.Modules(ctx); err != nil {
		t.Fatalf("Modules after Refresh: %v", err)
	}
	if remote.lists != 2 {
		t.Errorf("backend listed %d times after Refresh, want 2", remote.lists)
	}
}
