// Package rpc implements the worker's wire protocol: newline-delimited
// JSON-RPC 2.0 requests on an input stream, one response line per request on
// an output stream.
package rpc

import "encoding/json"

// JSON-RPC 2.0 error codes used by the worker. There is no parse-error code
// here: a line that fails to parse is skipped without a response.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one incoming JSON-RPC call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// Response is one outgoing JSON-RPC reply. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC error object. Data carries structured diagnostic
// detail, such as the list of offending fields on a validation failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func resultResponse(id json.RawMessage, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, CodeInternalError, "encoding result", err.Error())
	}
	return Response{JSONRPC: "2.0", Result: raw, ID: id}
}

func errorResponse(id json.RawMessage, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	}
}
