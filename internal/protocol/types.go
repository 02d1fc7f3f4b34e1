package protocol

// Request is one line of the inbound stream: a method name plus a flat
// parameter mapping. Params is optional on the wire and defaults to empty.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is one line of the outbound stream. Exactly one of Content or
// Error is set; the other is omitted from the encoded object.
type Response struct {
	Content []Content `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Content is a single envelope item. Type is always "text".
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResponse wraps tool output in the success envelope.
func TextResponse(text string) *Response {
	return &Response{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// ErrorResponse wraps an error in the failure envelope.
func ErrorResponse(err error) *Response {
	return &Response{Error: err.Error()}
}

// Text returns the concatenated text of all content items.
func (r *Response) Text() string {
	var out string
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}

// IsError reports whether the response carries an error envelope.
func (r *Response) IsError() bool {
	return r.Error != ""
}
