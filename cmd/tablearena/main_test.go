package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/leaderboard"
)

// newRoot builds a root command like main does, without executing it.
func newRoot() *cobra.Command {
	root := &cobra.Command{Use: "tablearena", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().StringP("config", "c", "", "")
	root.PersistentFlags().BoolP("verbose", "v", false, "")
	root.AddCommand(evaluateCmd(), normalizeCmd(), leaderboardCmd(), versionCmd())
	return root
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNormalizeCommand(t *testing.T) {
	out, err := execute(t, "| a | b |\n|---|---|\n| 1 | 2 |", "normalize")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := "<html><body><table><tbody><tr><td>a</td><td>b</td></tr><tr><td>1</td><td>2</td></tr></tbody></table></body></html>\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestEvaluateCommand_Exact(t *testing.T) {
	dir := t.TempDir()
	gt := writeFile(t, dir, "gt.json", `{"t1": "| a | b |", "t2": "| c | d |"}`)
	preds := writeFile(t, dir, "preds.json", `{"t1": "<table><tr><td>a</td><td>b</td></tr></table>", "t2": "| x |"}`)

	out, err := execute(t, "", "evaluate", "--ground-truth", gt, "--predictions", preds, "--scorer", "exact", "-q")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var result evaluation.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if result.TotalCount != 2 || result.ValidCount != 2 {
		t.Errorf("counts = %d/%d, want 2/2", result.ValidCount, result.TotalCount)
	}
	if result.AggregateScore != 0.5 {
		t.Errorf("aggregate = %v, want 0.5", result.AggregateScore)
	}
}

func TestEvaluateCommand_RejectsBadPredictions(t *testing.T) {
	dir := t.TempDir()
	gt := writeFile(t, dir, "gt.json", `{"t1": "| a |"}`)
	preds := writeFile(t, dir, "preds.json", `["not", "an", "object"]`)

	if _, err := execute(t, "", "evaluate", "--ground-truth", gt, "--predictions", preds, "--scorer", "exact", "-q"); err == nil {
		t.Fatal("expected an error for a non-object predictions file")
	}
}

func TestLeaderboardCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARENA_UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("ARENA_DETAILS_DIR", filepath.Join(dir, "details"))
	path := filepath.Join(dir, "board.json")

	backend, err := leaderboard.NewFileBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	store := leaderboard.NewStore(backend)
	for _, e := range []leaderboard.Entry{{Name: "alice", Score: 0.9}, {Name: "bob", Score: 0.7}} {
		if _, err := store.Insert(e); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(t, "", "leaderboard", "list", "--path", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "alice") || strings.Index(out, "alice") > strings.Index(out, "bob") {
		t.Errorf("unexpected listing:\n%s", out)
	}

	if _, err := execute(t, "", "leaderboard", "remove", "alice", "--path", path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := execute(t, "", "leaderboard", "remove", "alice", "--path", path); err == nil {
		t.Error("second remove should fail")
	}

	out, err = execute(t, "", "leaderboard", "list", "--json", "--path", path)
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var entries []leaderboard.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "bob" {
		t.Errorf("entries = %+v, want only bob", entries)
	}
}
