package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is an outbound call frame.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope a call resolves to. Exactly one of Result and
// Error is meaningful; an Error is an application-level outcome, not a
// transport failure.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (r *Response) HasResult() bool {
	return r != nil && present(r.Result)
}

func (r *Response) HasError() bool {
	return r != nil && present(r.Error)
}

// Err returns the remote error carried by the envelope, or nil.
func (r *Response) Err() error {
	if !r.HasError() {
		return nil
	}
	return DecodeRemoteError(r.Error)
}

func (r *Response) DecodeResult(v any) error {
	if !r.HasResult() {
		return fmt.Errorf("response %d has no result", r.ID)
	}
	return json.Unmarshal(r.Result, v)
}

type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindResponse
	KindNotification
)

func (k MessageKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is one decoded inbound frame.
type Message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (m Message) Kind() MessageKind {
	switch {
	case m.ID != nil:
		return KindResponse
	case m.Method != "":
		return KindNotification
	default:
		return KindInvalid
	}
}

func (m Message) Response() *Response {
	if m.ID == nil {
		return nil
	}
	return &Response{ID: *m.ID, Result: m.Result, Error: m.Error}
}

func (m Message) Notification() Notification {
	return Notification{Method: m.Method, Params: m.Params}
}

// RemoteError is the decoded form of a response error payload.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"-"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %d: %s", e.Code, string(e.Raw))
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// DecodeRemoteError accepts both the {code,message} object form and bare
// strings.
func DecodeRemoteError(raw json.RawMessage) *RemoteError {
	out := &RemoteError{Raw: append(json.RawMessage(nil), raw...)}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out.Message = s
		return out
	}
	_ = json.Unmarshal(raw, out)
	return out
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
