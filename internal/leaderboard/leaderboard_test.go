package leaderboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
)

func names(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Name
	}
	return strings.Join(parts, ",")
}

func TestStore_InsertOrdering(t *testing.T) {
	s := NewStore(NewMemoryBackend())

	for _, e := range []Entry{{"a", 0.5}, {"b", 0.9}, {"c", 0.1}, {"d", 0.5}} {
		if _, err := s.Insert(e); err != nil {
			t.Fatalf("Insert(%s) error = %v", e.Name, err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	// d ties with a and was inserted later
	if got := names(list); got != "b,a,d,c" {
		t.Errorf("order = %s, want b,a,d,c", got)
	}
	if rank, _ := s.Rank("d"); rank != 3 {
		t.Errorf("Rank(d) = %d, want 3", rank)
	}
	if rank, _ := s.Rank("zz"); rank != 0 {
		t.Errorf("Rank(zz) = %d, want 0", rank)
	}
}

func TestStore_TiesStableAcrossMutations(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	for _, n := range []string{"x", "y", "z"} {
		if _, err := s.Insert(Entry{n, 0.7}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Insert(Entry{"top", 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Remove("top"); err != nil {
		t.Fatal(err)
	}

	list, _ := s.List()
	if got := names(list); got != "x,y,z" {
		t.Errorf("order = %s, want x,y,z", got)
	}
}

func TestStore_DuplicateInsert(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	if _, err := s.Insert(Entry{"a", 0.5}); err != nil {
		t.Fatal(err)
	}

	_, err := s.Insert(Entry{"a", 0.99})
	if !apperrors.IsAlreadyExists(err) {
		t.Fatalf("err = %v, want ALREADY_EXISTS", err)
	}

	list, _ := s.List()
	if len(list) != 1 || list[0].Score != 0.5 {
		t.Errorf("store changed after failed insert: %+v", list)
	}
}

func TestStore_RemoveAbsent(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	if _, err := s.Insert(Entry{"a", 0.5}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Remove("b"); !apperrors.IsNotFound(err) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if ok, _ := s.Contains("a"); !ok {
		t.Error("store changed after failed remove")
	}
}

func TestStore_RemoveThenReinsert(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	if _, err := s.Insert(Entry{"a", 0.5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	list, err := s.Insert(Entry{"a", 0.8})
	if err != nil {
		t.Fatalf("re-Insert() error = %v", err)
	}
	if len(list) != 1 || list[0].Score != 0.8 {
		t.Errorf("list = %+v", list)
	}
}

func TestStore_InvalidEntries(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	for _, e := range []Entry{{"", 0.5}} {
		if _, err := s.Insert(e); !apperrors.HasCode(err, apperrors.CodeValidation) {
			t.Errorf("Insert(%+v) err = %v, want validation error", e, err)
		}
	}
}

func TestStore_ConcurrentInserts(t *testing.T) {
	backend, err := NewFileBackend(filepath.Join(t.TempDir(), "leaderboard.json"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(backend)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Insert(Entry{fmt.Sprintf("p%02d", i), float64(i%7) / 7}); err != nil {
				t.Errorf("Insert() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != n {
		t.Fatalf("len = %d, want %d (lost appends)", len(list), n)
	}
	seen := map[string]bool{}
	for i, e := range list {
		if seen[e.Name] {
			t.Errorf("duplicate %s", e.Name)
		}
		seen[e.Name] = true
		if i > 0 && list[i-1].Score < e.Score {
			t.Errorf("not sorted at %d", i)
		}
	}
}

func TestFileBackend_CreatesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "leaderboard.json")
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if backend.Path() != path {
		t.Errorf("Path() = %s, want %s", backend.Path(), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("initial content = %q, want []", data)
	}
}

func TestFileBackend_PersistsShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaderboard.json")
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(backend)
	if _, err := s.Insert(Entry{"alpha", 0.6}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(Entry{"beta", 0.8}); err != nil {
		t.Fatal(err)
	}

	var raw []map[string]any
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("file is not a JSON array: %v", err)
	}
	if len(raw) != 2 || raw[0]["name"] != "beta" || raw[0]["score"] != 0.8 {
		t.Errorf("persisted = %v", raw)
	}

	// Reopening keeps the existing content
	reopened, err := NewFileBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := reopened.Read()
	if len(entries) != 2 {
		t.Errorf("reopened entries = %+v", entries)
	}

	// No temp files left behind
	files, _ := os.ReadDir(dir)
	if len(files) != 1 {
		t.Errorf("directory has %d files, want 1", len(files))
	}
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaderboard.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(backend).Insert(Entry{"a", 1}); !apperrors.HasCode(err, apperrors.CodeStorage) {
		t.Errorf("err = %v, want storage error", err)
	}
}
