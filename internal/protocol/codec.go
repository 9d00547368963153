package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeRequest deserializes and validates one inbound frame.
// The envelope is parsed strictly; params stay raw for the handler.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}

	if req.JSONRPC != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version: %q", req.JSONRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("request missing required field: method")
	}

	return &req, nil
}

// DecodeParams unmarshals the request params into v, strictly.
// An absent params object is an error: every method that calls this
// requires parameters.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return fmt.Errorf("request missing required field: params")
	}

	decoder := json.NewDecoder(bytes.NewReader(r.Params))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// NewResponse builds a success response echoing the request id.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// NewErrorResponse builds an error response echoing the request id.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

// NewNotification builds a server-to-client notification (no id).
func NewNotification(method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw}, nil
}
