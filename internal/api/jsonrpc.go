// Package api is the downstream surface MUD clients talk to: JSON-RPC 2.0
// over WebSocket and over a newline-delimited TCP socket, plus the HTTP
// health and metrics endpoints.
package api

import "encoding/json"

// JSON-RPC 2.0 error codes. The standard ones plus the gateway's own range.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeUnauthorized   = -32001
	CodeRateLimited    = -32029
	CodeUpstreamDown   = -32050
	CodeTimeout        = -32051
)

// Request is an incoming JSON-RPC call. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a server-initiated message (an event push).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func rpcErr(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

func result(id json.RawMessage, v interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func errResponse(id json.RawMessage, e *RPCError) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: e}
}
