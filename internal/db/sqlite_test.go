package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crates-hub/crates-hub/internal/crate"
)

func newTestProvider(t *testing.T) Provider {
	t.Helper()
	provider, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

func testMeta(name, vers string) *crate.Metadata {
	desc := "a test crate"
	return &crate.Metadata{Name: name, Vers: vers, Description: &desc}
}

func mustPublish(t *testing.T, p Provider, name, vers, user string) {
	t.Helper()
	if err := p.AddCrate(context.Background(), testMeta(name, vers), "abc123", time.Now(), user); err != nil {
		t.Fatalf("publish %s-%s: %v", name, vers, err)
	}
}

func TestAddCrateCreatesCrateAndOwner(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	mustPublish(t, p, "Test-Lib", "0.1.0", "alice")

	normalized := crate.Normalize("Test-Lib")
	id, found, err := p.GetCrateID(ctx, normalized)
	if err != nil || !found {
		t.Fatalf("crate not found after publish: found=%v err=%v", found, err)
	}

	original, found, err := p.GetOriginalName(ctx, normalized)
	if err != nil || !found {
		t.Fatalf("original name lookup: found=%v err=%v", found, err)
	}
	if original != "Test-Lib" {
		t.Fatalf("original name mismatch: %s", original)
	}

	exists, err := p.CrateVersionExists(ctx, id, "0.1.0")
	if err != nil || !exists {
		t.Fatalf("version must exist: exists=%v err=%v", exists, err)
	}

	isOwner, err := p.IsOwner(ctx, normalized, "alice")
	if err != nil || !isOwner {
		t.Fatalf("publisher must become initial owner: owner=%v err=%v", isOwner, err)
	}
}

func TestAddCrateDuplicateVersion(t *testing.T) {
	p := newTestProvider(t)
	mustPublish(t, p, "test_lib", "0.2.0", "alice")

	err := p.AddCrate(context.Background(), testMeta("test_lib", "0.2.0"), "def456", time.Now(), "alice")
	if !errors.Is(err, ErrVersionExists) {
		t.Fatalf("expected ErrVersionExists, got %v", err)
	}
}

func TestAddCrateKeepsHighestMaxVersion(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	mustPublish(t, p, "test_lib", "0.3.0", "alice")
	mustPublish(t, p, "test_lib", "0.2.0", "alice")

	results, err := p.SearchInCrateName(ctx, "test_lib")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].MaxVersion != "0.3.0" {
		t.Fatalf("max_version must stay at 0.3.0: %+v", results)
	}
}

func TestOwnerLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	name := crate.Normalize("test_lib")
	mustPublish(t, p, "test_lib", "0.1.0", "alice")

	if err := p.AddOwner(ctx, name, "ghost"); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}

	if err := p.AddUser(ctx, "bob", false); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := p.AddOwner(ctx, name, "bob"); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	// 重复添加是幂等的
	if err := p.AddOwner(ctx, name, "bob"); err != nil {
		t.Fatalf("repeated add owner: %v", err)
	}

	owners, err := p.GetCrateOwners(ctx, name)
	if err != nil {
		t.Fatalf("get owners: %v", err)
	}
	if len(owners) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(owners))
	}

	if err := p.DeleteOwner(ctx, name, "bob"); err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	if err := p.DeleteOwner(ctx, name, "alice"); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner, got %v", err)
	}

	owners, err = p.GetCrateOwners(ctx, name)
	if err != nil {
		t.Fatalf("get owners after guard: %v", err)
	}
	if len(owners) != 1 || owners[0].Login != "alice" {
		t.Fatalf("alice must remain sole owner: %+v", owners)
	}
}

func TestDeleteOwnerUnknownCrate(t *testing.T) {
	p := newTestProvider(t)
	err := p.DeleteOwner(context.Background(), crate.Normalize("nope"), "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestYankAndUnyank(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	name := crate.Normalize("test_lib")
	mustPublish(t, p, "test_lib", "0.1.0", "alice")

	if err := p.YankCrate(ctx, name, "0.1.0"); err != nil {
		t.Fatalf("yank: %v", err)
	}
	if err := p.UnyankCrate(ctx, name, "0.1.0"); err != nil {
		t.Fatalf("unyank: %v", err)
	}
	if err := p.YankCrate(ctx, name, "9.9.9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown version, got %v", err)
	}
}

func TestSearchNormalizesQuery(t *testing.T) {
	p := newTestProvider(t)
	mustPublish(t, p, "my-crate", "1.0.0", "alice")

	results, err := p.SearchInCrateName(context.Background(), "My-Crate")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].OriginalName != "my-crate" {
		t.Fatalf("hyphen and case must not matter: %+v", results)
	}
}

func TestDownloadCounters(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	name := crate.Normalize("test_lib")
	mustPublish(t, p, "test_lib", "0.1.0", "alice")

	if err := p.IncreaseDownloadCounter(ctx, name, "0.1.0"); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if err := p.IncreaseDownloadCounter(ctx, name, "9.9.9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// 缓存计数独立于本地版本行，首次即插入
	if err := p.IncreaseCachedDownloadCounter(ctx, "serde", "1.0.0"); err != nil {
		t.Fatalf("cached counter insert: %v", err)
	}
	if err := p.IncreaseCachedDownloadCounter(ctx, "serde", "1.0.0"); err != nil {
		t.Fatalf("cached counter update: %v", err)
	}
}

func TestTokenAuth(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if _, err := p.UserFromToken(ctx, "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	if err := p.AddUser(ctx, "admin", true); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := p.AddAuthToken(ctx, "bootstrap", "secret-token", "admin"); err != nil {
		t.Fatalf("add token: %v", err)
	}
	// 重复注册同一令牌不报错
	if err := p.AddAuthToken(ctx, "bootstrap", "secret-token", "admin"); err != nil {
		t.Fatalf("repeated add token: %v", err)
	}
	if err := p.AddAuthToken(ctx, "x", "other-token", "ghost"); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}

	user, err := p.UserFromToken(ctx, "secret-token")
	if err != nil {
		t.Fatalf("user from token: %v", err)
	}
	if user.Name != "admin" || !user.IsAdmin {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestAddDocQueue(t *testing.T) {
	p := newTestProvider(t)
	if err := p.AddDocQueue(context.Background(), crate.Normalize("test_lib"), "0.1.0", "/tmp/docs/abc"); err != nil {
		t.Fatalf("doc queue: %v", err)
	}
}
