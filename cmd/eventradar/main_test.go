package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

// testEnv points the CLI at a temp data dir with the offline encoder.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("EVENTRADAR_CONFIG", "")
	t.Setenv("EVENTRADAR_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("EVENTRADAR_ENCODER_BACKEND", "hashing")
	t.Setenv("EVENTRADAR_LOGGING_LEVEL", "disabled")
	return dir
}

// run executes the CLI with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("eventradar %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	rootCmd := newRootCmd()
	want := []string{"version", "embed", "recommend", "remove", "get", "health", "import", "reindex", "seed", "init-weights", "config"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	for _, flag := range []string{"config", "json", "log-level", "metrics-file", "allow-empty-on-load-error"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing global flag --%s", flag)
		}
	}
}

func TestVersionCmd_JSON(t *testing.T) {
	out := mustRun(t, "version", "--json")
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestEmbedThenRecommend(t *testing.T) {
	testEnv(t)
	mustRun(t, "embed", "--id", "evt-1", "--title", "ML Workshop", "--description", "Hands-on machine learning", "--tag", "ai,technology")
	mustRun(t, "embed", "--id", "evt-2", "--title", "Poetry Night", "--description", "Open mic poetry", "--club", "Writers Guild")

	out := mustRun(t, "recommend", "--json", "--major", "Computer Science", "--year", "Junior", "--interest", "AI Club", "--top-k", "5")
	var recs struct {
		Results []struct {
			EventID     string   `json:"event_id"`
			HostingClub *string  `json:"hosting_club"`
			Tags        []string `json:"tags"`
		} `json:"recommendations"`
		TotalIndexed int `json:"total_events"`
	}
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if recs.TotalIndexed != 2 || len(recs.Results) != 2 {
		t.Fatalf("expected 2 of 2 results, got %+v", recs)
	}

	out = mustRun(t, "recommend", "--json", "--major", "Computer Science", "--year", "Junior", "--exclude", "evt-1")
	if strings.Contains(out, `"evt-1"`) {
		t.Errorf("excluded event returned:\n%s", out)
	}
}

func TestEmbedCmd_ValidationError(t *testing.T) {
	testEnv(t)
	_, err := run(t, "embed", "--id", "evt-1", "--title", "", "--description", "d")
	if err == nil || !strings.Contains(err.Error(), "title") {
		t.Fatalf("expected title validation error, got %v", err)
	}
}

func TestRemoveAndGet(t *testing.T) {
	testEnv(t)
	mustRun(t, "seed")

	out := mustRun(t, "get", "sample-hackathon")
	if !strings.Contains(out, "24-Hour Campus Hackathon") {
		t.Errorf("unexpected get output:\n%s", out)
	}

	out = mustRun(t, "remove", "sample-hackathon", "--json")
	if !strings.Contains(out, `"removed": true`) {
		t.Errorf("expected removal, got:\n%s", out)
	}
	out = mustRun(t, "remove", "sample-hackathon")
	if !strings.Contains(out, "not found") {
		t.Errorf("expected not found message, got:\n%s", out)
	}
	if _, err := run(t, "get", "sample-hackathon"); err == nil {
		t.Error("expected get of removed event to fail")
	}
}

func TestImportCmd(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "events.json")
	body := `[
  {"event_id": "imp-1", "title": "Chess Blitz", "description": "Fast games", "club_name": "Chess Club"},
  {"event_id": "imp-2", "title": "", "description": "missing title"}
]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "import", path)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if !strings.Contains(out, "Imported 1 of 2") || !strings.Contains(out, "imp-2") {
		t.Errorf("unexpected import output:\n%s", out)
	}

	out = mustRun(t, "get", "imp-1", "--json")
	if !strings.Contains(out, `"hosting_club": "Chess Club"`) {
		t.Errorf("expected club_name alias to be stored:\n%s", out)
	}
}

func TestSeedExport(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "samples.yaml")
	mustRun(t, "seed", "--export", path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected export file: %v", err)
	}
	mustRun(t, "import", path)
	out := mustRun(t, "health", "--json")
	if !strings.Contains(out, `"event_count": 8`) {
		t.Errorf("expected 8 imported samples:\n%s", out)
	}
}

func TestConfigCmd(t *testing.T) {
	testEnv(t)
	out := mustRun(t, "config")
	if !strings.Contains(out, "backend: hashing") || !strings.Contains(out, "max_top_k: 100") {
		t.Errorf("unexpected config output:\n%s", out)
	}
}

func TestInitWeightsThenHealth(t *testing.T) {
	dir := testEnv(t)
	mustRun(t, "init-weights")
	for _, name := range []string{"event_tower.safetensors", "user_tower.safetensors"} {
		if _, err := os.Stat(filepath.Join(dir, "data", "weights", name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := run(t, "init-weights"); err == nil {
		t.Error("expected refusal to overwrite without --force")
	}
	mustRun(t, "init-weights", "--force")

	out := mustRun(t, "health", "--json")
	if !strings.Contains(out, "event=checkpoint,user=checkpoint") || !strings.Contains(out, `"weights_trained": true`) {
		t.Errorf("expected checkpoint weights in health:\n%s", out)
	}
}

func TestAllowEmptyOnLoadError(t *testing.T) {
	dir := testEnv(t)
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "CURRENT"), []byte("gone\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "health"); err == nil {
		t.Fatal("expected load failure to abort")
	}
	out := mustRun(t, "health", "--json", "--allow-empty-on-load-error")
	if !strings.Contains(out, `"event_count": 0`) {
		t.Errorf("expected empty index:\n%s", out)
	}
}

func TestMetricsFile(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "eventradar.prom")
	mustRun(t, "seed", "--metrics-file", path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected metrics file: %v", err)
	}
	if !strings.Contains(string(data), "eventradar_index_mutations_total") {
		t.Errorf("expected index metrics in file")
	}
}

func TestSQLiteBackend(t *testing.T) {
	testEnv(t)
	t.Setenv("EVENTRADAR_INDEX_BACKEND", "sqlite")
	mustRun(t, "seed")
	out := mustRun(t, "health", "--json")
	if !strings.Contains(out, `"backend": "sqlite"`) || !strings.Contains(out, `"event_count": 8`) {
		t.Errorf("unexpected health:\n%s", out)
	}
}

func TestAllowEmptyOnLoadError_ReadsDoNotOverwrite(t *testing.T) {
	dir := testEnv(t)
	mustRun(t, "seed")
	dataDir := filepath.Join(dir, "data")
	cur, err := os.ReadFile(filepath.Join(dataDir, "CURRENT"))
	if err != nil {
		t.Fatal(err)
	}
	sidecar := filepath.Join(dataDir, "snapshots", strings.TrimSpace(string(cur)), "event_metadata.json")
	if err := os.Truncate(sidecar, 10); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		mustRun(t, "health", "--allow-empty-on-load-error")
	}
	if _, err := run(t, "health", "--json"); err == nil {
		t.Fatal("expected the damaged index to keep failing to load")
	}
}

func TestRecommendCmd_TopK(t *testing.T) {
	testEnv(t)
	mustRun(t, "seed")
	count := func(args ...string) int {
		t.Helper()
		out := mustRun(t, append([]string{"recommend", "--json", "--major", "Biology", "--year", "Senior"}, args...)...)
		var recs struct {
			Results []json.RawMessage `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(out), &recs); err != nil {
			t.Fatalf("invalid JSON %q: %v", out, err)
		}
		return len(recs.Results)
	}
	if got := count(); got != 8 {
		t.Errorf("expected the default top-k to return all 8 samples, got %d", got)
	}
	if got := count("--top-k", "0"); got != 1 {
		t.Errorf("expected --top-k 0 to clamp to 1, got %d", got)
	}
	if got := count("--top-k", "3"); got != 3 {
		t.Errorf("expected 3 results, got %d", got)
	}
}
