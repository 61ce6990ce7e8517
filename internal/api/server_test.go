package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/scene"
)

type fakeScenes struct{}

func (fakeScenes) SaveState(id host.DeviceID) (scene.Snapshot, error) {
	if id != "movie" {
		return nil, fmt.Errorf("%s: %w", id, host.ErrDeviceNotFound)
	}
	return scene.Snapshot{scene.DeviceKey("lamp"): {}, scene.VariableKey("mode"): {}}, nil
}

func (fakeScenes) CompareState(id host.DeviceID) (scene.Report, error) {
	if id != "movie" {
		return scene.Report{}, scene.ErrNoSnapshot
	}
	return scene.Report{Items: []scene.ItemResult{{Name: "lamp", Matches: true}}}, nil
}

type fakeActions struct {
	calls []string
}

func (f *fakeActions) InvokeThroughLua(ctx context.Context, name string, args map[string]any, source string) error {
	if name != "evening" {
		return fmt.Errorf("%w: %q", actions.ErrNotFound, name)
	}
	f.calls = append(f.calls, fmt.Sprintf("%s:%v:%s", name, args["level"], source))
	return nil
}

type fixture struct {
	host    *host.Registry
	flash   *flash.Sequencer
	actions *fakeActions
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	h := host.NewRegistry()
	h.AddDevice(host.Device{ID: "lamp", Name: "Lamp", Class: host.ClassDimmer, Brightness: 20, OnState: true})
	h.AddDevice(host.Device{ID: "plug", Name: "Plug", Class: host.ClassRelay})
	h.AddVariable(host.Variable{ID: "mode", Value: "day"})

	seq := flash.New(h, nil, nil)
	fa := &fakeActions{}
	catalog := actions.NewRegistry()
	if err := actions.RegisterBuiltins(catalog, flash.Defaults{}); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	srv := NewServer("127.0.0.1", 0, Deps{
		Host:          h,
		Flash:         seq,
		FlashDefaults: flash.Defaults{Count: 1, Duration: 10 * time.Millisecond, Gap: 10 * time.Millisecond},
		Scenes:        fakeScenes{},
		Actions:       fa,
		Catalog:       catalog,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		seq.Shutdown(ctx)
	})

	return &fixture{host: h, flash: seq, actions: fa, server: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("%s %s: missing X-Request-ID", method, path)
	}

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw any
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
		if m, ok := raw.(map[string]any); ok {
			out = m
		} else {
			out = map[string]any{"list": raw}
		}
	}
	return resp.StatusCode, out
}

func TestDeviceEndpoints(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"list", http.MethodGet, "/devices", "", http.StatusOK},
		{"get", http.MethodGet, "/devices/lamp", "", http.StatusOK},
		{"get missing", http.MethodGet, "/devices/nope", "", http.StatusNotFound},
		{"set brightness", http.MethodPost, "/devices/lamp/actions", `{"action":"setBrightness","value":75}`, http.StatusOK},
		{"unknown action", http.MethodPost, "/devices/lamp/actions", `{"action":"explode"}`, http.StatusBadRequest},
		{"unsupported action", http.MethodPost, "/devices/plug/actions", `{"action":"setSpeedIndex","value":2}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/devices/lamp/actions", `{`, http.StatusBadRequest},
		{"missing device", http.MethodPost, "/devices/nope/actions", `{"action":"turnOn"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := f.do(t, tt.method, tt.path, tt.body)
			if status != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, status, tt.wantStatus)
			}
		})
	}

	if d, _ := f.host.Device("lamp"); d.Brightness != 75 {
		t.Errorf("lamp brightness = %d, want 75", d.Brightness)
	}
}

func TestVariableEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPut, "/variables/mode", `{"value":"night"}`)
	if status != http.StatusOK || body["value"] != "night" {
		t.Errorf("PUT /variables/mode = %d %v", status, body)
	}
	if status, _ := f.do(t, http.MethodPut, "/variables/mode", `{}`); status != http.StatusBadRequest {
		t.Errorf("PUT without value status = %d, want 400", status)
	}
	if status, _ := f.do(t, http.MethodPut, "/variables/ghost", `{"value":"x"}`); status != http.StatusNotFound {
		t.Errorf("PUT unknown variable status = %d, want 404", status)
	}

	status, body = f.do(t, http.MethodGet, "/variables", "")
	list, _ := body["list"].([]any)
	if status != http.StatusOK || len(list) != 1 {
		t.Errorf("GET /variables = %d %v", status, body)
	}
}

func TestFlashEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/flash", `{"deviceList":["lamp"],"flashCount":50,"flashDuration":0.05}`)
	if status != http.StatusAccepted || body["id"] == "" {
		t.Fatalf("POST /flash = %d %v", status, body)
	}
	if !f.flash.IsFlashing("lamp") {
		t.Error("lamp is not flashing")
	}

	status, body = f.do(t, http.MethodPost, "/flash/cancel", "")
	if status != http.StatusOK || body["cancelled"] != float64(1) {
		t.Errorf("POST /flash/cancel = %d %v", status, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.flash.Wait(ctx)
	if d, _ := f.host.Device("lamp"); d.Brightness != 20 {
		t.Errorf("lamp brightness after cancel = %d, want 20", d.Brightness)
	}

	if status, _ := f.do(t, http.MethodPost, "/flash", `{"deviceList":""}`); status != http.StatusBadRequest {
		t.Errorf("POST /flash without devices status = %d, want 400", status)
	}
	if status, _ := f.do(t, http.MethodPost, "/flash", `{"deviceList":"lamp","flashCount":"many"}`); status != http.StatusBadRequest {
		t.Errorf("POST /flash with bad count status = %d, want 400", status)
	}
}

func TestSceneAndActionEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/scenes/movie/save", "")
	if status != http.StatusOK || body["items"] != float64(2) {
		t.Errorf("POST /scenes/movie/save = %d %v", status, body)
	}
	status, body = f.do(t, http.MethodGet, "/scenes/movie/compare", "")
	if status != http.StatusOK || body["matches"] != true {
		t.Errorf("GET /scenes/movie/compare = %d %v", status, body)
	}
	if status, _ := f.do(t, http.MethodGet, "/scenes/other/compare", ""); status != http.StatusNotFound {
		t.Errorf("compare without snapshot status = %d, want 404", status)
	}

	if status, _ := f.do(t, http.MethodPost, "/actions/evening", `{"level":40}`); status != http.StatusOK {
		t.Errorf("POST /actions/evening status = %d, want 200", status)
	}
	if status, _ := f.do(t, http.MethodPost, "/actions/missing", ""); status != http.StatusNotFound {
		t.Errorf("POST /actions/missing status = %d, want 404", status)
	}
	if len(f.actions.calls) != 1 || f.actions.calls[0] != "evening:40:api" {
		t.Errorf("action calls = %v", f.actions.calls)
	}

	status, body = f.do(t, http.MethodGet, "/actions", "")
	list, _ := body["actions"].([]any)
	if status != http.StatusOK || len(list) != 4 {
		t.Fatalf("GET /actions = %d %v, want 4 builtins", status, body)
	}
	first, _ := list[0].(map[string]any)
	if first["name"] != actions.ActionDevice || first["origin"] != string(actions.OriginBuiltin) {
		t.Errorf("first action = %v, want %s builtin", first, actions.ActionDevice)
	}
}
