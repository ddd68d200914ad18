package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), ".verify-orch"))
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestStore_RequirementWriteOnce(t *testing.T) {
	store := newTestStore(t)

	meta := RequirementMeta{RunID: "run-1", Language: "go", TestScope: "unit"}
	if err := store.WriteRequirement("implement add(a,b)", meta); err != nil {
		t.Fatal(err)
	}

	// Second write must fail: the requirement is immutable for the run
	err := store.WriteRequirement("something else", meta)
	if !errors.Is(err, ErrRequirementExists) {
		t.Errorf("second write error = %v, want ErrRequirementExists", err)
	}

	text, gotMeta, err := store.ReadRequirement()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "implement add(a,b)") {
		t.Errorf("requirement text = %q, want original content", text)
	}
	if strings.Contains(text, "run_id") {
		t.Error("frontmatter leaked into requirement text")
	}
	if gotMeta.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", gotMeta.RunID)
	}
	if gotMeta.Language != "go" {
		t.Errorf("Language = %q, want go", gotMeta.Language)
	}
	if gotMeta.CreatedAt == "" {
		t.Error("CreatedAt should be populated")
	}
}

func TestStore_ListTestsStableOrder(t *testing.T) {
	store := newTestStore(t)

	files := []string{"b_test.go", "a_test.go", "c_test.go"}
	for _, name := range files {
		path := filepath.Join(store.Layout().TestsDir(), name)
		if err := store.Write(path, "package x"); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := store.ListTests()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Fatalf("len = %d, want 3", len(paths))
	}
	for i, want := range []string{"a_test.go", "b_test.go", "c_test.go"} {
		if filepath.Base(paths[i]) != want {
			t.Errorf("paths[%d] = %s, want %s", i, filepath.Base(paths[i]), want)
		}
	}
}

func TestStore_RejectsOutsidePaths(t *testing.T) {
	store := newTestStore(t)

	outside := filepath.Join(os.TempDir(), "evil.go")
	if err := store.Write(outside, "x"); err == nil {
		t.Error("Write outside store root should fail")
	}
	if _, err := store.Read("/etc/hostname"); err == nil {
		t.Error("Read outside store root should fail")
	}
}

func TestStore_ClearStripped(t *testing.T) {
	store := newTestStore(t)

	path := filepath.Join(store.Layout().StrippedDir(), "a_test.go")
	if err := store.Write(path, "package x"); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearStripped(); err != nil {
		t.Fatal(err)
	}
	paths, err := store.ListStripped()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Errorf("stripped dir has %d files after clear, want 0", len(paths))
	}
}
