//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("ORCHESTRATOR_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestSmokeHealth(t *testing.T) {
	var body map[string]any
	if code := call(t, http.MethodGet, "/api/health", nil, &body); code != http.StatusOK {
		t.Fatalf("health: got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("status: got %v", body["status"])
	}
}

func TestSmokeTools(t *testing.T) {
	var created map[string]any
	code := call(t, http.MethodPost, "/api/tools", map[string]any{
		"botId":    "smoke",
		"name":     fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		"toolType": "context_read",
		"isActive": true,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create tool: got %d", code)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("tool id missing")
	}
	t.Cleanup(func() { call(t, http.MethodDelete, "/api/tools/"+id, nil, nil) })

	if code := call(t, http.MethodGet, "/api/tools/"+id, nil, nil); code != http.StatusOK {
		t.Errorf("get tool: got %d", code)
	}
	var tools []map[string]any
	call(t, http.MethodGet, "/api/bots/smoke/tools", nil, &tools)
	if len(tools) == 0 {
		t.Error("bot tools: expected at least one")
	}
}

// TestSmokeWorkflow runs a one-step workflow over the first configured agent.
func TestSmokeWorkflow(t *testing.T) {
	var agents []map[string]any
	call(t, http.MethodGet, "/api/agents", nil, &agents)
	if len(agents) == 0 {
		t.Skip("no agents configured")
	}
	agentID, _ := agents[0]["id"].(string)

	var def map[string]any
	code := call(t, http.MethodPost, "/api/workflows", map[string]any{
		"name":         "smoke",
		"workflowType": "sequential",
		"agentsConfig": []map[string]any{{"agentId": agentID}},
		"isActive":     true,
	}, &def)
	if code != http.StatusCreated {
		t.Fatalf("create workflow: got %d", code)
	}

	var exec map[string]any
	code = call(t, http.MethodPost, fmt.Sprintf("/api/workflows/%s/executions", def["id"]), map[string]any{
		"input": "Reply with a JSON object containing a single key named ok.",
		"wait":  true,
	}, &exec)
	if code != http.StatusOK {
		t.Fatalf("run workflow: got %d (%v)", code, exec["error"])
	}
	if exec["status"] != "completed" {
		t.Errorf("execution status: got %v (%v)", exec["status"], exec["error"])
	}

	var snap map[string]any
	if code := call(t, http.MethodGet, fmt.Sprintf("/api/executions/%s/context", exec["id"]), nil, &snap); code != http.StatusOK {
		t.Errorf("context: got %d", code)
	}
}
