package mcpbridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/clawdlabs/clawd-domains/internal/mcpbridge"
	"github.com/clawdlabs/clawd-domains/pkg/client"
)

// runBridge feeds newline-delimited JSON-RPC input to a server backed by a
// broker client that is never reached, and returns the decoded responses.
func runBridge(t *testing.T, input string) ([]map[string]any, error) {
	t.Helper()
	c, err := client.New("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	tools, err := mcpbridge.NewToolRegistry(c, "")
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}

	var out bytes.Buffer
	srv := mcpbridge.NewServer(&out, tools, log.New(io.Discard, "", 0))
	serveErr := srv.Serve(context.Background(), strings.NewReader(input))

	var resps []map[string]any
	dec := json.NewDecoder(&out)
	for {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			break
		}
		resps = append(resps, m)
	}
	return resps, serveErr
}

// byID indexes responses by their numeric id.
func byID(t *testing.T, resps []map[string]any) map[float64]map[string]any {
	t.Helper()
	out := make(map[float64]map[string]any)
	for _, r := range resps {
		id, ok := r["id"].(float64)
		if !ok {
			t.Fatalf("response without numeric id: %v", r)
		}
		out[id] = r
	}
	return out
}

func TestServe_handshake(t *testing.T) {
	resps, err := runBridge(t, strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	// The notification gets no response.
	if len(resps) != 3 {
		t.Fatalf("responses: got %d want 3", len(resps))
	}
	r := byID(t, resps)

	init, _ := r[1]["result"].(map[string]any)
	if init["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion: %v", init["protocolVersion"])
	}
	info, _ := init["serverInfo"].(map[string]any)
	if info["name"] != "clawd-mcp-bridge" {
		t.Errorf("serverInfo name: %v", info["name"])
	}

	list, _ := r[2]["result"].(map[string]any)
	toolDefs, _ := list["tools"].([]any)
	if len(toolDefs) == 0 {
		t.Error("tools/list returned no tools")
	}

	if _, ok := r[3]["result"].(map[string]any); !ok {
		t.Errorf("ping result: %v", r[3]["result"])
	}
}

func TestServe_unknownMethod(t *testing.T) {
	resps, err := runBridge(t, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("responses: got %d", len(resps))
	}
	rpcErr, _ := resps[0]["error"].(map[string]any)
	if rpcErr == nil || rpcErr["code"] != float64(-32601) {
		t.Errorf("error: %v", resps[0]["error"])
	}
}

func TestServe_unknownTool(t *testing.T) {
	resps, err := runBridge(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"launch_rockets","arguments":{}}}`)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	// Tool calls run on their own goroutine; Serve must still have flushed
	// the response before returning.
	if len(resps) != 1 {
		t.Fatalf("responses: got %d", len(resps))
	}
	result, _ := resps[0]["result"].(map[string]any)
	if result == nil || result["isError"] != true {
		t.Errorf("result: %v", resps[0]["result"])
	}
}

func TestServe_malformedStream(t *testing.T) {
	resps, err := runBridge(t, `{"jsonrpc":"2.0","id":1,`)
	if err == nil {
		t.Fatal("a truncated stream should end Serve with an error")
	}
	if len(resps) != 1 {
		t.Fatalf("responses: got %d", len(resps))
	}
	rpcErr, _ := resps[0]["error"].(map[string]any)
	if rpcErr == nil || rpcErr["code"] != float64(-32700) {
		t.Errorf("error: %v", resps[0]["error"])
	}
}
