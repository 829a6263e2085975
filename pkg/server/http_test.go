package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/dasmlab/telephone/pkg/service"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestTranslateEndpoint(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})

	resp := postJSON(t, env.server.URL+"/translate", `{"text": "Hello world"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got translateResponse
	decode(t, resp, &got)

	if got.Input != "Hello world" {
		t.Errorf("input = %q", got.Input)
	}
	if got.SuccessfulTranslations != 2 || len(got.Translations) != 2 {
		t.Errorf("successful = %d, translations = %d, want 2", got.SuccessfulTranslations, len(got.Translations))
	}
	last := got.Translations[len(got.Translations)-1]
	if got.OutputLanguage != last.TargetLanguageName {
		t.Errorf("output_language = %q, want %q", got.OutputLanguage, last.TargetLanguageName)
	}
	if got.OutputTranslation != last.TranslatedText || got.BackTranslation != "Hello world" {
		t.Errorf("output = %q / %q", got.OutputTranslation, got.BackTranslation)
	}
	if got.ProblemLanguages == nil {
		t.Error("problem_languages should be an empty list, not null")
	}
}

func TestTranslateEndpointErrors(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{"uncertain detection", `{"text": "uncertain words"}`, http.StatusUnprocessableEntity, "Could not detect language"},
		{"invalid json", `{"text":`, http.StatusBadRequest, "Invalid JSON format"},
		{"empty text", `{"text": ""}`, http.StatusBadRequest, "Text must not be empty"},
		{"too long", `{"text": "` + strings.Repeat("a", 101) + `"}`, http.StatusBadRequest, "Text is longer than 100 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.server.URL+"/translate", tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body map[string]string
			decode(t, resp, &body)
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestAsyncRelay(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})

	resp := postJSON(t, env.server.URL+"/api/v1/relays", `{"text": "Hello world"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var created map[string]string
	decode(t, resp, &created)
	id := created["id"]
	if id == "" {
		t.Fatal("no id returned")
	}

	stream, err := http.Get(env.server.URL + "/api/v1/relays/" + id + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var types []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if typ, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, typ)
		}
	}
	if len(types) == 0 || types[0] != "status" || types[len(types)-1] != "complete" {
		t.Fatalf("event types = %v", types)
	}

	statusResp, err := http.Get(env.server.URL + "/api/v1/relays/" + id)
	if err != nil {
		t.Fatalf("GET relay: %v", err)
	}
	var view service.SessionView
	decode(t, statusResp, &view)
	if view.Status != service.SessionStatusCompleted || view.Events != len(types) {
		t.Errorf("view = %+v", view)
	}
}

func TestAsyncRelayNotFound(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})

	for _, path := range []string{"/api/v1/relays/missing", "/api/v1/relays/missing/events"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		engine   prefixEngine
		wantCode int
		wantBody string
	}{
		{"healthy", prefixEngine{}, http.StatusOK, "healthy"},
		{"unhealthy", prefixEngine{healthErr: errBackendDown}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.engine)
			resp, err := http.Get(env.server.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health: %v", err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body healthResponse
			decode(t, resp, &body)
			if body.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tt.wantBody)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})
	postJSON(t, env.server.URL+"/translate", `{"text": "Hello world"}`).Body.Close()

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "telephone_relay_sessions_total") {
			found = true
			break
		}
	}
	if !found {
		t.Error("relay session metric not exported")
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:5173", "http://localhost:5173"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/translate", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("OPTIONS: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d, want 204", resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"https://App.example/", " http://localhost:5173 "})
	if !p.allows("https://app.example") || !p.allows("http://localhost:5173") {
		t.Error("configured origins rejected")
	}
	if p.allows("https://other.example") {
		t.Error("unknown origin allowed")
	}
	if !newOriginPolicy([]string{"*"}).allows("https://anything.example") {
		t.Error("wildcard did not allow origin")
	}
}
