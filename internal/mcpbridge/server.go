// Package mcpbridge implements a Model Context Protocol (MCP) server that
// exposes the Clawd Domains broker as MCP tools: domain search, the USDC
// purchase flow, and DNS management.
//
// The server speaks JSON-RPC 2.0 over stdio, which is the standard transport
// for Claude Desktop and other local MCP hosts.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "clawd-mcp-bridge"
	serverVersion   = "0.1.0"
)

// rpcRequest is an inbound JSON-RPC 2.0 message.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // nil = notification
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is an outbound JSON-RPC 2.0 message.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// handlerFunc serves one protocol method. A non-nil rpcError becomes the
// response's error member; otherwise the returned value is the result.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *rpcError)

// Server is a stdio MCP server. Responses go through a single mutex-guarded
// encoder: tool calls complete on their own goroutines and must never
// interleave bytes on the transport.
type Server struct {
	tools    *ToolRegistry
	handlers map[string]handlerFunc
	logger   *log.Logger

	outMu sync.Mutex
	out   *json.Encoder

	inflight sync.WaitGroup
}

// NewServer creates an MCP server that writes responses to w.
// logger should write to stderr — writing to stdout would corrupt the protocol.
func NewServer(w io.Writer, tools *ToolRegistry, logger *log.Logger) *Server {
	s := &Server{tools: tools, out: json.NewEncoder(w), logger: logger}
	s.handlers = map[string]handlerFunc{
		"initialize": s.initialize,
		"ping": func(context.Context, json.RawMessage) (any, *rpcError) {
			return map[string]any{}, nil
		},
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	return s
}

// Serve decodes JSON-RPC messages from r until EOF or ctx cancellation,
// then waits for in-flight tool calls to finish so their responses are not
// cut off mid-write.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	defer s.inflight.Wait()

	dec := json.NewDecoder(r)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var req rpcRequest
		if err := dec.Decode(&req); err != nil {
			if err == io.EOF {
				return nil
			}
			// A malformed message leaves the decoder off a message
			// boundary; the stream cannot be resynced.
			s.reply(json.RawMessage(`null`), nil, &rpcError{Code: codeParseError, Message: "parse error"})
			return fmt.Errorf("read request: %w", err)
		}

		// Notifications have no id and get no response.
		if len(req.ID) == 0 {
			continue
		}

		handler, ok := s.handlers[req.Method]
		if !ok {
			s.reply(req.ID, nil, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method})
			continue
		}

		if req.Method == "tools/call" {
			// Tool calls block on the broker (network, on-chain
			// settlement); protocol methods stay synchronous and ordered.
			s.inflight.Add(1)
			go func(req rpcRequest) {
				defer s.inflight.Done()
				result, rpcErr := handler(ctx, req.Params)
				s.reply(req.ID, result, rpcErr)
			}(req)
			continue
		}
		result, rpcErr := handler(ctx, req.Params)
		s.reply(req.ID, result, rpcErr)
	}
}

func (s *Server) initialize(context.Context, json.RawMessage) (any, *rpcError) {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
	}, nil
}

func (s *Server) listTools(context.Context, json.RawMessage) (any, *rpcError) {
	return map[string]any{"tools": s.tools.Definitions()}, nil
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}

	s.logger.Printf("tool call: %s", call.Name)
	text, isErr := s.tools.Call(ctx, call.Name, call.Arguments)

	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isErr,
	}, nil
}

func (s *Server) reply(id json.RawMessage, result any, rpcErr *rpcError) {
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}
	if rpcErr != nil {
		resp.Result = nil
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.logger.Printf("write error: %v", err)
	}
}
