package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes an advisor.yaml whose stores live in a temp dir
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
store:
  path: %s
  fallback_path: %s
cloud:
  base_url: %q
sync:
  auto: false
log:
  level: error
  format: console
`, filepath.Join(dir, "advisor.db"), filepath.Join(dir, "fallback.yaml"), baseURL)
	path := filepath.Join(dir, "advisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

type result struct {
	stdout, stderr string
	err            error
}

func runCLI(t *testing.T, stdin io.Reader, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return result{stdout.String(), stderr.String(), err}
}

var northArgs = []string{"record", "--field", "North", "--ph", "6.5", "--nitrogen", "220",
	"--phosphorus", "25", "--potassium", "160", "--moisture", "65", "--organic-matter", "3"}

func TestVersion(t *testing.T) {
	res := runCLI(t, nil, "version")
	require.NoError(t, res.err)
	assert.Equal(t, "AgSys Soil Advisor v"+version+"\n", res.stdout)
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  method: DELETE\n"), 0644))

	res := runCLI(t, nil, "--config", path, "history")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "sync.method must be POST or PUT")
}

func TestRecord(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, nil, append([]string{"--config", cfg}, northArgs...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Health: pH excellent, nutrients excellent, moisture excellent, overall 90")
	assert.Contains(t, res.stdout, "Range index: 100")
	assert.Contains(t, res.stdout, "Rice")
	assert.NotContains(t, res.stdout, "could not be saved")
	assert.Contains(t, res.stderr, "[en-US] Soil health score 90.")
}

func TestRecord_JSON(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, nil, append([]string{"--config", cfg}, append(northArgs, "--json")...)...)
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "{"))
	assert.Contains(t, res.stdout, `"rangeIndex": 100`)
}

func TestRecord_ValidationError(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, nil, "--config", cfg, "record", "--field", "North", "--ph", "6.5",
		"--nitrogen", "220", "--phosphorus", "25", "--potassium", "160")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "invalid moisture")
}

func TestHistoryAndCrops(t *testing.T) {
	cfg := writeConfig(t, "")

	require.NoError(t, runCLI(t, nil, append([]string{"--config", cfg}, northArgs...)...).err)
	south := append([]string{"--config", cfg}, northArgs...)
	south[4] = "South"
	require.NoError(t, runCLI(t, nil, south...).err)

	res := runCLI(t, nil, "--config", cfg, "history")
	require.NoError(t, res.err)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "North")
	assert.Contains(t, lines[3], "South")
	assert.True(t, strings.HasPrefix(lines[3], "*"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[3]), "N"))

	res = runCLI(t, nil, "--config", cfg, "crops", "--low-water")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Groundnut")
	assert.NotContains(t, res.stdout, "Rice")

	res = runCLI(t, nil, "--config", cfg, "crops", "missing-id")
	assert.Error(t, res.err)
}

func TestCrops_NoMeasurements(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, nil, "--config", cfg, "crops")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no measurements recorded yet")
}

func TestSync(t *testing.T) {
	var mu sync.Mutex
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			posted = append(posted, r.URL.Path+" "+string(body))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := writeConfig(t, srv.URL)
	require.NoError(t, runCLI(t, nil, append([]string{"--config", cfg}, northArgs...)...).err)

	res := runCLI(t, nil, "--config", cfg, "sync")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "1 synced, 0 failed")

	mu.Lock()
	require.Len(t, posted, 1)
	assert.True(t, strings.HasPrefix(posted[0], "/soil/measurements {"))
	assert.Contains(t, posted[0], `"fieldName":"North"`)
	mu.Unlock()

	res = runCLI(t, nil, "--config", cfg, "history")
	require.NoError(t, res.err)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "Y"))

	res = runCLI(t, nil, "--config", cfg, "sync")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "0 synced, 0 failed")
}

func TestSync_NotConfigured(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, nil, "--config", cfg, "sync")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "cloud.base_url is not configured")
}

func TestSync_Offline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := writeConfig(t, url)
	require.NoError(t, runCLI(t, nil, append([]string{"--config", cfg}, northArgs...)...).err)

	res := runCLI(t, nil, "--config", cfg, "sync")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "Device is offline")
}

func TestListen(t *testing.T) {
	cfg := writeConfig(t, "")
	stdin := strings.NewReader("field name is River Bend\npH 6.5 nitrogen 220\nphosphorus 25 potassium 160\nmoisture 65\n")

	res := runCLI(t, stdin, "--config", cfg, "listen", "--record")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "fieldName=River Bend\n")
	assert.Contains(t, res.stdout, "ph=6.5\n")
	assert.Contains(t, res.stdout, "Measurement ")
	assert.Contains(t, res.stdout, "(River Bend)")
	assert.Contains(t, res.stderr, "Soil health score")
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := writeConfig(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan result, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&stdout)
		cmd.SetErr(&stderr)
		cmd.SetArgs([]string{"--config", cfg, "serve", "--port", fmt.Sprint(port)})
		err := cmd.ExecuteContext(ctx)
		done <- result{stdout.String(), stderr.String(), err}
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case res := <-done:
		assert.NoError(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
