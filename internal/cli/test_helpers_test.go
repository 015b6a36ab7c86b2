package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/memento/internal/config"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// parseOnly parses args without executing the selected command.
func parseOnly(t *testing.T, args ...string) (*GlobalFlags, *commands) {
	t.Helper()
	p, globals, cmds := buildParser("test")
	p.CommandHandler = func(goflags.Commander, []string) error { return nil }
	_, err := p.ParseArgs(args)
	require.NoError(t, err)
	return globals, cmds
}

// testSetup is a config file pointing at a private storage root.
type testSetup struct {
	cfgPath string
	root    string
}

func newTestSetup(t *testing.T, mutate func(*config.Config)) *testSetup {
	t.Helper()
	dir := t.TempDir()
	s := &testSetup{
		cfgPath: filepath.Join(dir, "config.yaml"),
		root:    filepath.Join(dir, "data"),
	}

	cfg := config.DefaultConfig()
	cfg.Storage.Path = s.root
	cfg.Logging.File = ""
	cfg.Logging.Level = "warn"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Save(s.cfgPath, cfg))
	return s
}

// run executes the CLI against the setup's config and returns stdout.
func (s *testSetup) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var err error
	out := captureOutput(t, func() {
		err = RunWithArgs("test", append([]string{"--config", s.cfgPath}, args...))
	})
	return out, err
}

func (s *testSetup) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := s.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (s *testSetup) segmentFile(t *testing.T, start string) string {
	t.Helper()
	dir := filepath.Join(s.root, "videos")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, start+".mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	return path
}

// fakeOllama serves /api/embed with a vector chosen by topic keywords.
func fakeOllama(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/embed":
			var req struct {
				Input string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			vec := []float32{0, 0, 1}
			switch {
			case strings.Contains(req.Input, "report"):
				vec = []float32{1, 0, 0}
			case strings.Contains(req.Input, "lunch"):
				vec = []float32{0, 1, 0}
			}
			json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vec}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
