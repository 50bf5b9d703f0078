package registry

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/apierror"
	"github.com/crates-hub/crates-hub/internal/config"
	"github.com/crates-hub/crates-hub/internal/crate"
	"github.com/crates-hub/crates-hub/internal/db"
	"github.com/crates-hub/crates-hub/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, db.Provider) {
	t.Helper()
	dir := t.TempDir()

	provider, err := db.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { provider.Close() })

	store, err := storage.NewStore(filepath.Join(dir, "crates"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{}
	return New(provider, store, cfg, logger), provider
}

func TestParsePerPage(t *testing.T) {
	cases := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 10, false},
		{"1", 1, false},
		{"100", 100, false},
		{"0", 0, true},
		{"101", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}

	for _, tc := range cases {
		got, apiErr := ParsePerPage(tc.raw)
		if tc.wantErr {
			if apiErr == nil {
				t.Errorf("ParsePerPage(%q): expected error", tc.raw)
			}
			continue
		}
		if apiErr != nil {
			t.Errorf("ParsePerPage(%q): unexpected error: %v", tc.raw, apiErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePerPage(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestCheckOwnership(t *testing.T) {
	h, provider := newTestHandler(t)
	ctx := context.Background()

	desc := "x"
	meta := &crate.Metadata{Name: "test_lib", Vers: "0.1.0", Description: &desc}
	if err := provider.AddCrate(ctx, meta, "abc", time.Now(), "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	name := crate.Normalize("test_lib")

	if apiErr := h.checkOwnership(ctx, name, db.User{Name: "alice"}); apiErr != nil {
		t.Fatalf("owner must pass: %v", apiErr)
	}
	if apiErr := h.checkOwnership(ctx, name, db.User{Name: "mallory", IsAdmin: true}); apiErr != nil {
		t.Fatalf("admin must short-circuit: %v", apiErr)
	}

	apiErr := h.checkOwnership(ctx, name, db.User{Name: "mallory"})
	if apiErr == nil {
		t.Fatal("non-owner must be rejected")
	}
	if apiErr.List[0].Title != apierror.TitleNotOwner {
		t.Fatalf("unexpected title: %s", apiErr.List[0].Title)
	}
}

func TestVersionConflictDetail(t *testing.T) {
	apiErr := versionConflict("test_lib", "0.2.0")
	if got := apiErr.List[0].Detail; got != "Crate with version already exists: test_lib-0.2.0" {
		t.Fatalf("unexpected detail: %q", got)
	}
}

func TestEnqueueDocBuildSkipsExistingDocs(t *testing.T) {
	h, _ := newTestHandler(t)
	h.cfg.Docs.Enabled = true
	ctx := context.Background()

	docURL := "https://docs.rs/test_lib"
	h.enqueueDocBuild(ctx, crate.Normalize("test_lib"), &crate.Metadata{
		Name: "test_lib", Vers: "0.1.0", Documentation: &docURL,
	})
	if entries, err := filepath.Glob(filepath.Join(h.store.BasePath(), ".doc-queue", "*")); err != nil || len(entries) != 0 {
		t.Fatalf("no doc queue dir may be created: %v %v", entries, err)
	}

	h.enqueueDocBuild(ctx, crate.Normalize("test_lib"), &crate.Metadata{
		Name: "test_lib", Vers: "0.1.0",
	})
}
