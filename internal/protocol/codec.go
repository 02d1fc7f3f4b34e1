package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// DecodeRequest parses one input line into a Request.
// Returns an error if the line is not valid JSON or has no method.
func DecodeRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	if req.Method == "" {
		return nil, fmt.Errorf("request missing required field: method")
	}

	if req.Params == nil {
		req.Params = make(map[string]any)
	}

	return &req, nil
}

// EncodeResponse serializes a Response to w as a single JSON line.
func EncodeResponse(w io.Writer, resp *Response) error {
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}
