// Package remote is the client contract for the Catalyst Center API.
//
// Every controller call is addressed by a (family, operation) pair and a
// flat parameter map. The client owns transport concerns: authentication,
// token refresh, pacing and retry of throttled calls. Callers see either a
// decoded Response or a *util.RemoteError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Client invokes controller operations.
type Client interface {
	Invoke(ctx context.Context, op Op, params Params) (*Response, error)
}

// Op names a controller operation by family and operation name.
type Op struct {
	Family    string
	Operation string
}

func (o Op) String() string {
	return o.Family + "." + o.Operation
}

// Params is the flat parameter map of a call. Keys matching a {name}
// placeholder in the route become path parameters, PayloadKey becomes the
// JSON body and every other key is sent in the query string.
type Params map[string]any

// PayloadKey is the parameter carrying the JSON request body.
const PayloadKey = "payload"

// File is a downloaded artifact.
type File struct {
	Name string
	Data []byte
}

// Response is the result of a successful call.
type Response struct {
	// Body is the raw JSON body. Empty for file downloads.
	Body json.RawMessage
	// File is set when the operation returned an attachment.
	File *File
}

// NewResponse builds a Response by marshaling v. It is used by fakes and tests.
func NewResponse(v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("remote.NewResponse: %v", err))
	}
	return &Response{Body: data}
}

// NewFileResponse builds a Response carrying a downloaded file.
func NewFileResponse(name string, data []byte) *Response {
	return &Response{File: &File{Name: name, Data: data}}
}

type envelope struct {
	Response json.RawMessage `json:"response"`
}

// Payload returns the "response" member of the controller envelope, or the
// whole body when the envelope is absent.
func (r *Response) Payload() json.RawMessage {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Response) > 0 {
			return env.Response
		}
	}
	return trimmed
}

// Decode unmarshals the envelope payload into v.
func (r *Response) Decode(v any) error {
	payload := r.Payload()
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	return json.Unmarshal(payload, v)
}

// DecodeBody unmarshals the whole body into v, ignoring the envelope.
func (r *Response) DecodeBody(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// TaskHandle is the asynchronous task reference returned by mutating calls.
type TaskHandle struct {
	TaskID string `json:"taskId"`
	URL    string `json:"url"`
}

// Handle extracts the task handle from a mutating call's response.
func (r *Response) Handle() (TaskHandle, error) {
	var h TaskHandle
	if err := r.Decode(&h); err != nil {
		return h, fmt.Errorf("decoding task handle: %w", err)
	}
	if h.TaskID == "" {
		// Some families return the handle outside the envelope.
		if err := r.DecodeBody(&h); err != nil || h.TaskID == "" {
			return TaskHandle{}, fmt.Errorf("response carries no task id")
		}
	}
	return h, nil
}

// Call is shorthand for c.Invoke with a nil-safe parameter map.
func Call(ctx context.Context, c Client, op Op, params Params) (*Response, error) {
	if params == nil {
		params = Params{}
	}
	return c.Invoke(ctx, op, params)
}
