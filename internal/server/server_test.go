package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ironsheep/photomosaic-mcp/internal/pipeline"
)

func TestNew(t *testing.T) {
	s := New(nil)
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.pipeline == nil {
		t.Fatal("New(nil) did not create a pipeline")
	}

	p := pipeline.New(pipeline.Options{Workers: 2})
	if got := New(p).pipeline; got != p {
		t.Error("New(p) should drive the given pipeline")
	}
}

func TestMCPRequest_Unmarshal(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantID     interface{}
		wantMethod string
	}{
		{
			"string id",
			`{"jsonrpc":"2.0","id":"test-1","method":"tools/list"}`,
			"test-1",
			"tools/list",
		},
		{
			"number id",
			`{"jsonrpc":"2.0","id":42,"method":"ping"}`,
			float64(42), // JSON numbers decode as float64
			"ping",
		},
		{
			"null id",
			`{"jsonrpc":"2.0","id":null,"method":"initialize"}`,
			nil,
			"initialize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MCPRequest
			if err := json.Unmarshal([]byte(tt.json), &req); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}

			if req.ID != tt.wantID {
				t.Errorf("ID: got %v (%T), want %v (%T)", req.ID, req.ID, tt.wantID, tt.wantID)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("Method: got %s, want %s", req.Method, tt.wantMethod)
			}
		})
	}
}

func TestHandleRequest_Initialize(t *testing.T) {
	s := New(nil)
	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
	}

	resp := s.handleRequest(req)

	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	if resp.ID != 1 {
		t.Errorf("ID: got %v, want 1", resp.ID)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion: got %v", result["protocolVersion"])
	}

	caps, ok := result["capabilities"].(map[string]interface{})
	if !ok {
		t.Fatal("capabilities should be a map")
	}
	for _, key := range []string{"tools", "logging"} {
		if _, ok := caps[key]; !ok {
			t.Errorf("capabilities missing %q", key)
		}
	}
}

func TestHandleRequest_Ping(t *testing.T) {
	s := New(nil)
	resp := s.handleRequest(&MCPRequest{JSONRPC: "2.0", ID: "ping-1", Method: "ping"})

	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	if resp.ID != "ping-1" {
		t.Errorf("ID: got %v, want ping-1", resp.ID)
	}
}

func TestHandleRequest_ToolsList(t *testing.T) {
	s := New(nil)
	resp := s.handleRequest(&MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"})

	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	toolsList, ok := result["tools"].([]Tool)
	if !ok {
		t.Fatal("tools should be a slice of Tool")
	}
	if len(toolsList) != 7 {
		t.Errorf("Expected 7 tools, got %d", len(toolsList))
	}
}

func TestHandleRequest_NotificationsInitialized(t *testing.T) {
	s := New(nil)
	resp := s.handleRequest(&MCPRequest{JSONRPC: "2.0", Method: "notifications/initialized"})

	// Notifications don't get responses
	if resp != nil {
		t.Error("notifications/initialized should return nil response")
	}
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	s := New(nil)
	resp := s.handleRequest(&MCPRequest{JSONRPC: "2.0", ID: 1, Method: "nonexistent/method"})

	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error == nil {
		t.Fatal("Expected error for unknown method")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("Error code: got %d, want -32601", resp.Error.Code)
	}
}

func TestHandleInitialize(t *testing.T) {
	s := New(nil)
	resp := s.handleInitialize(&MCPRequest{JSONRPC: "2.0", ID: "init-1"})

	if resp.ID != "init-1" {
		t.Errorf("ID: got %v, want init-1", resp.ID)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	serverInfo, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		t.Fatal("serverInfo should be a map")
	}
	if serverInfo["name"] != "photomosaic-mcp" {
		t.Errorf("serverInfo.name: got %v", serverInfo["name"])
	}
	if serverInfo["version"] != "0.1.0" {
		t.Errorf("serverInfo.version: got %v", serverInfo["version"])
	}
}

func TestServe(t *testing.T) {
	s := New(nil)
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		``,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"mosaic_generate","arguments":{}}}`,
	}, "\n")

	var out bytes.Buffer
	if err := s.Serve(strings.NewReader(in), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var ids []float64
	var lastErr *MCPError
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var resp MCPResponse
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			t.Fatalf("bad output line %q: %v", sc.Text(), err)
		}
		id, ok := resp.ID.(float64)
		if !ok {
			t.Fatalf("output without numeric id: %s", sc.Text())
		}
		ids = append(ids, id)
		lastErr = resp.Error
	}

	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("response ids = %v, want [1 2 3]", ids)
	}
	// generate without a catalog fails as a tool error
	if lastErr == nil || lastErr.Code != -32000 {
		t.Errorf("generate error = %+v, want code -32000", lastErr)
	}
}

func TestNotify(t *testing.T) {
	s := New(nil)

	// without a connected writer notifications are dropped
	s.notify("matching", map[string]int{"processedRows": 1})

	var out bytes.Buffer
	if err := s.Serve(strings.NewReader(""), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	s.notify("matching", map[string]int{"processedRows": 1, "totalRows": 4})

	var n struct {
		MCPNotification
		Params struct {
			Level  string         `json:"level"`
			Logger string         `json:"logger"`
			Data   map[string]int `json:"data"`
		} `json:"params"`
	}
	if err := json.Unmarshal(out.Bytes(), &n); err != nil {
		t.Fatalf("bad notification %q: %v", out.String(), err)
	}
	if n.Method != "notifications/message" {
		t.Errorf("Method = %q", n.Method)
	}
	if n.Params.Logger != "matching" || n.Params.Data["totalRows"] != 4 {
		t.Errorf("Params = %+v", n.Params)
	}
}

func TestMatchProgress(t *testing.T) {
	s := New(nil)
	var out bytes.Buffer
	if err := s.Serve(strings.NewReader(""), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	progress := s.matchProgress()
	for i := 1; i <= 100; i++ {
		progress(i, 100)
	}
	progress(0, 0)

	lines := strings.Count(out.String(), "\n")
	// one notification per ten percent step, 0% through 100%
	if lines != 11 {
		t.Errorf("notifications = %d, want 11", lines)
	}
}
