package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/playpenhq/playpen/config"
	"github.com/playpenhq/playpen/orchestrator"
	"github.com/playpenhq/playpen/types"
)

// fakeRuntime simulates the container runtime in memory.
type fakeRuntime struct {
	mu      sync.Mutex
	nextID  int
	running map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: make(map[string]bool)}
}

func (f *fakeRuntime) Build(context.Context, string, string) error { return nil }

func (f *fakeRuntime) Start(_ context.Context, _ orchestrator.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.running[id] = true
	return id, nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *fakeRuntime) Restart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	return nil
}

func (f *fakeRuntime) RemoveImage(context.Context, string) error { return nil }

func (f *fakeRuntime) Running(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeRuntime) Logs(context.Context, string, int) ([]string, error) {
	return []string{"listening on 8080"}, nil
}

func (f *fakeRuntime) Stats(context.Context, string) (*types.ResourceUsage, error) {
	return &types.ResourceUsage{CPUPercent: 1.5}, nil
}

func newTestAPI(t *testing.T, maxInstances int) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	conf := config.DefaultConfig()
	dir := t.TempDir()
	conf.RootDir = filepath.Join(dir, "root")
	conf.RunDir = filepath.Join(dir, "run")
	conf.PortRangeStart = 32000
	conf.PortRangeEnd = 32009
	conf.MaxInstances = maxInstances

	o, err := orchestrator.New(conf, newFakeRuntime())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	srv := httptest.NewServer(NewHandler(conf, o, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, o
}

func multipartUpload(t *testing.T, url, filename string, code []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(code)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	resp, err := http.Post(url+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

const cleanGame = `
module.exports = {
  init(room) { return { board: [], players: {} }; },
  onAction(state, player, action) { return state; },
};
`

type errEnvelope struct {
	Error struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Path    string          `json:"path"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func TestUploadCleanArtifact(t *testing.T) {
	srv, o := newTestAPI(t, 5)

	resp := multipartUpload(t, srv.URL, "mygame.js", []byte(cleanGame), map[string]string{
		"name":        "Room A",
		"description": "test room",
		"max_players": "8",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		ServerID string          `json:"server_id"`
		Server   *types.Instance `json:"server"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ServerID == "" || out.Server.State != types.InstanceStateCreating {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.Server.Config.Name != "Room A" || out.Server.Config.MaxPlayers != 8 {
		t.Fatalf("config not applied: %+v", out.Server.Config)
	}

	o.Wait()
	inst, err := o.Inspect(context.Background(), out.ServerID)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if inst.State != types.InstanceStateRunning {
		t.Fatalf("expected running, got %s", inst.State)
	}
}

func TestUploadRejectsDangerousCode(t *testing.T) {
	srv, _ := newTestAPI(t, 5)

	resp := multipartUpload(t, srv.URL, "evil.js", []byte(`eval("process.exit(1)");`), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var env errEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Code != types.CodeSecurityRejected {
		t.Fatalf("expected code %d, got %d", types.CodeSecurityRejected, env.Error.Code)
	}
	var findings []types.Finding
	if err := json.Unmarshal(env.Error.Details, &findings); err != nil {
		t.Fatalf("decode findings: %v", err)
	}
	if len(findings) == 0 {
		t.Fatal("expected findings in details")
	}
	if env.Error.Path != "/upload" {
		t.Errorf("expected path /upload, got %s", env.Error.Path)
	}
}

func TestUploadUnsupportedExtension(t *testing.T) {
	srv, _ := newTestAPI(t, 5)

	resp := multipartUpload(t, srv.URL, "game.exe", []byte("MZ"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var env errEnvelope
	json.NewDecoder(resp.Body).Decode(&env)
	if env.Error.Code != types.CodeInvalidArtifact {
		t.Fatalf("expected code %d, got %d", types.CodeInvalidArtifact, env.Error.Code)
	}
}

func TestUploadCapExhaustion(t *testing.T) {
	srv, o := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		resp := multipartUpload(t, srv.URL, fmt.Sprintf("game%d.js", i),
			[]byte(cleanGame+fmt.Sprintf("// room %d\n", i)), nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("upload %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
	o.Wait()

	resp := multipartUpload(t, srv.URL, "game2.js", []byte(cleanGame+"// room 2\n"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var env errEnvelope
	json.NewDecoder(resp.Body).Decode(&env)
	if env.Error.Code != types.CodeResourceExhausted {
		t.Fatalf("expected code %d, got %d", types.CodeResourceExhausted, env.Error.Code)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	srv, o := newTestAPI(t, 5)

	resp := multipartUpload(t, srv.URL, "game.js", []byte(cleanGame), nil)
	var out struct {
		ServerID string `json:"server_id"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	o.Wait()

	// stop
	stop, err := http.Post(srv.URL+"/servers/"+out.ServerID+"/stop", "", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	stop.Body.Close()
	if stop.StatusCode != http.StatusOK {
		t.Fatalf("stop status %d", stop.StatusCode)
	}

	// start again
	start, err := http.Post(srv.URL+"/servers/"+out.ServerID+"/start", "", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start.Body.Close()
	if start.StatusCode != http.StatusOK {
		t.Fatalf("start status %d", start.StatusCode)
	}

	// logs
	logs, err := http.Get(srv.URL + "/servers/" + out.ServerID + "/logs?lines=10")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	defer logs.Body.Close()
	var lr struct {
		ServerID string   `json:"server_id"`
		Logs     []string `json:"logs"`
	}
	if err := json.NewDecoder(logs.Body).Decode(&lr); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if lr.ServerID != out.ServerID || len(lr.Logs) == 0 {
		t.Fatalf("unexpected logs response: %+v", lr)
	}

	// delete
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/servers/"+out.ServerID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", del.StatusCode)
	}

	get, err := http.Get(srv.URL + "/servers/" + out.ServerID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", get.StatusCode)
	}
}

func TestGetUnknownServerIs404(t *testing.T) {
	srv, _ := newTestAPI(t, 5)

	resp, err := http.Get(srv.URL + "/servers/deadbeef")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var env errEnvelope
	json.NewDecoder(resp.Body).Decode(&env)
	if env.Error.Code != types.CodeNotFound {
		t.Fatalf("expected code %d, got %d", types.CodeNotFound, env.Error.Code)
	}
}

func TestSystemStats(t *testing.T) {
	srv, o := newTestAPI(t, 5)

	resp := multipartUpload(t, srv.URL, "game.js", []byte(cleanGame), nil)
	resp.Body.Close()
	o.Wait()

	stats, err := http.Get(srv.URL + "/system/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer stats.Body.Close()
	var out struct {
		Instances map[string]int `json:"instances"`
		Ports     struct {
			Used  int `json:"used"`
			Total int `json:"total"`
		} `json:"ports"`
		MaxInstances int `json:"max_instances"`
	}
	if err := json.NewDecoder(stats.Body).Decode(&out); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if out.Instances["running"] != 1 || out.Ports.Used != 1 || out.Ports.Total != 10 {
		t.Fatalf("unexpected stats: %+v", out)
	}
	if out.MaxInstances != 5 {
		t.Fatalf("expected max 5, got %d", out.MaxInstances)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestAPI(t, 5)

	health, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", health.StatusCode)
	}

	metrics, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", metrics.StatusCode)
	}
	body, _ := io.ReadAll(metrics.Body)
	if !bytes.Contains(body, []byte("playpen_")) {
		t.Fatal("expected playpen metrics in exposition")
	}
}
