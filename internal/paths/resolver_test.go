package paths_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grawlix/internal/book"
	"grawlix/internal/errs"
	"grawlix/internal/paths"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func resolve(t *testing.T, r *paths.Resolver, template string, meta book.Metadata, ext, root string, overwrite bool) string {
	t.Helper()
	res, err := r.Resolve(template, meta, ext, root, overwrite)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	t.Cleanup(res.Release)
	return res.Path
}

func TestResolveStripsForbiddenCharacters(t *testing.T) {
	root := t.TempDir()
	meta := book.Metadata{Title: "Test: Book?", SeriesIndex: floatPtr(1)}

	got := resolve(t, paths.NewResolver(), "{series}/{title} - {index}", meta, "epub", root, false)
	want := filepath.Join(root, "Test Book - 1.epub")
	if got != want {
		t.Errorf("resolved %q, want %q", got, want)
	}
}

func TestResolveAbsentFieldsRenderEmpty(t *testing.T) {
	root := t.TempDir()
	meta := book.Metadata{Title: "Solo"}
	got := resolve(t, paths.NewResolver(), "{series}/{title}", meta, "epub", root, false)
	// The absent series must not leave an empty leading directory.
	if got != filepath.Join(root, "Solo.epub") {
		t.Errorf("resolved %q", got)
	}
	if strings.Contains(got, "None") || strings.Contains(got, "<nil>") {
		t.Errorf("absent field rendered as placeholder: %q", got)
	}
}

func TestResolveNeverEscapesRoot(t *testing.T) {
	root := t.TempDir()
	metas := []book.Metadata{
		{Title: "../../etc/passwd"},
		{Title: "evil", Series: strPtr("../outside")},
		{Title: `..\..\windows`},
		{Title: "/absolute"},
	}
	for _, meta := range metas {
		got := resolve(t, paths.NewResolver(), "{series}/{title}", meta, "epub", root, false)
		rel, err := filepath.Rel(root, got)
		if err != nil || strings.HasPrefix(rel, "..") {
			t.Errorf("metadata %+v escaped root: %q", meta, got)
		}
	}
}

func TestResolveRewritesReservedDeviceNames(t *testing.T) {
	root := t.TempDir()
	for _, title := range []string{"CON", "con", "Nul", "COM3", "lpt9"} {
		got := resolve(t, paths.NewResolver(), "{title}", book.Metadata{Title: title}, "epub", root, false)
		base := strings.TrimSuffix(filepath.Base(got), ".epub")
		if _, bad := map[string]bool{"CON": true, "NUL": true, "COM3": true, "LPT9": true}[strings.ToUpper(base)]; bad {
			t.Errorf("title %q resolved to reserved device name %q", title, base)
		}
	}
}

func TestResolveAuthorsJoinOrder(t *testing.T) {
	root := t.TempDir()
	meta := book.Metadata{Title: "T", Authors: []string{"Zed", "Ann"}}
	got := resolve(t, paths.NewResolver(), "{authors}/{title}", meta, "epub", root, false)
	if !strings.Contains(got, "Zed, Ann") {
		t.Errorf("authors out of order or missing: %q", got)
	}
}

func TestResolveTruncatesLongSegments(t *testing.T) {
	root := t.TempDir()
	meta := book.Metadata{Title: strings.Repeat("à", 300)}
	got := resolve(t, paths.NewResolver(), "{title}", meta, "epub", root, false)
	base := filepath.Base(got)
	if len(base) > 255 {
		t.Errorf("segment %d bytes long", len(base))
	}
	if !strings.HasSuffix(base, ".epub") {
		t.Errorf("extension lost: %q", base)
	}
}

func TestResolveCollisionSuffixes(t *testing.T) {
	root := t.TempDir()
	meta := book.Metadata{Title: "book"}

	for _, existing := range []string{"book.epub", "book (1).epub"} {
		if err := os.WriteFile(filepath.Join(root, existing), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", existing, err)
		}
	}
	got := resolve(t, paths.NewResolver(), "{title}", meta, "epub", root, false)
	if got != filepath.Join(root, "book (2).epub") {
		t.Errorf("resolved %q, want book (2).epub", got)
	}
}

func TestResolveOverwriteKeepsExistingPath(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "book.epub"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got := resolve(t, paths.NewResolver(), "{title}", book.Metadata{Title: "book"}, "epub", root, true)
	if got != filepath.Join(root, "book.epub") {
		t.Errorf("resolved %q, want existing path", got)
	}
}

func TestResolveConcurrentReservationsDiverge(t *testing.T) {
	root := t.TempDir()
	resolver := paths.NewResolver()
	meta := book.Metadata{Title: "book"}

	first, err := resolver.Resolve("{title}", meta, "epub", root, false)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	defer first.Release()
	second, err := resolver.Resolve("{title}", meta, "epub", root, false)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	defer second.Release()

	if first.Path == second.Path {
		t.Errorf("concurrent resolutions share path %q", first.Path)
	}
	if second.Path != filepath.Join(root, "book (1).epub") {
		t.Errorf("second path = %q", second.Path)
	}
}

func TestResolveEmptyStemFails(t *testing.T) {
	_, err := paths.NewResolver().Resolve("{series}", book.Metadata{Title: "??"}, "epub", t.TempDir(), false)
	if !errors.Is(err, errs.ErrPathResolution) {
		t.Fatalf("expected ErrPathResolution, got %v", err)
	}
}

func TestReleaseFreesPath(t *testing.T) {
	root := t.TempDir()
	resolver := paths.NewResolver()
	meta := book.Metadata{Title: "book"}

	res, err := resolver.Resolve("{title}", meta, "epub", root, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	path := res.Path
	res.Release()

	again, err := resolver.Resolve("{title}", meta, "epub", root, false)
	if err != nil {
		t.Fatalf("Resolve after release: %v", err)
	}
	defer again.Release()
	if again.Path != path {
		t.Errorf("released path not reusable: %q vs %q", again.Path, path)
	}
}
