package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds and runs the server binary")
	}
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "gephiserver-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "gephiserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/gephiserver")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startServer runs "serve --seed" on a fresh database. extraEnv is appended
// to the environment.
func startServer(t *testing.T, binary string, extraEnv ...string) *serverProc {
	t.Helper()

	addr := freeAddr(t)
	dbPath := filepath.Join(t.TempDir(), "graphs.db")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary, "serve", "--seed")
	cmd.Env = append(os.Environ(),
		"GEPHISERVER_LISTEN_ADDR="+addr,
		"GEPHISERVER_DB_PATH="+dbPath,
		"GEPHISERVER_LOG_LEVEL=info",
	)
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

func TestServerStartsWithDemoGraph(t *testing.T) {
	sp := startServer(t, getBinary(t))

	resp, err := http.Get(sp.url + "/v1/graphs")
	if err != nil {
		t.Fatalf("GET /v1/graphs: %v", err)
	}
	defer resp.Body.Close()

	var graphs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&graphs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if graphs["1"] != "Demo topology" {
		t.Errorf("graphs = %v, want the demo graph", graphs)
	}
}

func TestSyncRender(t *testing.T) {
	sp := startServer(t, getBinary(t))

	for format, contentType := range map[string]string{
		"svg": "image/svg+xml",
		"png": "image/png",
	} {
		resp, err := http.Get(sp.url + "/v1/graphs/1/render?format=" + format)
		if err != nil {
			t.Fatalf("GET render %s: %v", format, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Fatalf("%s: status = %d, want 200\nbody: %s", format, resp.StatusCode, body)
		}
		if ct := resp.Header.Get("Content-Type"); ct != contentType {
			t.Errorf("%s: Content-Type = %q, want %q", format, ct, contentType)
		}
		if len(body) == 0 {
			t.Errorf("%s: empty diagram", format)
		}
	}
}

func TestAsyncRenderAndCollect(t *testing.T) {
	sp := startServer(t, getBinary(t))

	resp, err := http.Post(sp.url+"/v1/render/async", "application/json",
		bytes.NewBufferString(`{"graph_id":1,"pipeline":"rooted","params":{"root_node_id":1}}`))
	if err != nil {
		t.Fatalf("POST /v1/render/async: %v", err)
	}
	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 202 {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	id := accepted["id"]
	if len(id) != 26 {
		t.Errorf("id = %q, expected 26-char ULID", id)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(sp.url + "/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		var poll struct {
			Done bool `json:"done"`
		}
		json.NewDecoder(resp.Body).Decode(&poll)
		resp.Body.Close()
		if poll.Done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(pollInterval)
	}

	resp, err = http.Get(sp.url + "/v1/jobs/" + id + "/result")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || !strings.Contains(string(body), "<svg") {
		t.Fatalf("collect status = %d, body starts %q", resp.StatusCode, firstBytes(body))
	}

	resp, err = http.Get(sp.url + "/v1/jobs/" + id + "/result")
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("second collect status = %d, want 404", resp.StatusCode)
	}
}

func TestStructuredJSONLogs(t *testing.T) {
	sp := startServer(t, getBinary(t))

	resp, err := http.Get(sp.url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	// Poll for log output with a deadline.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(sp.stdout.String(), `"msg":"request"`) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	scanner := bufio.NewScanner(strings.NewReader(sp.stdout.String()))
	found := false
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "request" {
			found = true
			for _, key := range []string{"method", "path", "status", "duration_ms"} {
				if _, ok := entry[key]; !ok {
					t.Errorf("request log missing %q", key)
				}
			}
			break
		}
	}
	if !found {
		t.Errorf("no request log line in output:\n%s", sp.stdout.String())
	}
}

func TestGracefulShutdown(t *testing.T) {
	sp := startServer(t, getBinary(t))

	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("exit: %v\nstdout:\n%s", err, sp.stdout.String())
		}
	case <-time.After(startupTimeout):
		t.Fatal("server did not exit after SIGTERM")
	}

	out := sp.stdout.String()
	for _, msg := range []string{"server stopped", "scheduler shutting down"} {
		if !strings.Contains(out, msg) {
			t.Errorf("output missing %q", msg)
		}
	}
}

func TestRenderCommand(t *testing.T) {
	binary := getBinary(t)
	dir := t.TempDir()
	env := append(os.Environ(), "GEPHISERVER_DB_PATH="+filepath.Join(dir, "graphs.db"))

	seed := exec.Command(binary, "seed")
	seed.Env = env
	if out, err := seed.CombinedOutput(); err != nil {
		t.Fatalf("seed: %v\n%s", err, out)
	}

	outFile := filepath.Join(dir, "demo.png")
	render := exec.Command(binary, "render", "1", "--format", "png", "-o", outFile)
	render.Env = env
	if out, err := render.CombinedOutput(); err != nil {
		t.Fatalf("render: %v\n%s", err, out)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("output is not a PNG: %q", firstBytes(data))
	}
}

func firstBytes(b []byte) []byte {
	if len(b) > 16 {
		return b[:16]
	}
	return b
}
