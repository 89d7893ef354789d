package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/casedesk/relay/transport"
)

// Response is the uniform result of a call regardless of which profile served it.
type Response struct {
	Status  int
	OK      bool
	Data    any
	Body    []byte
	Headers http.Header
	// Profile names the profile that served the call
	Profile string
	// Attempts counts transport attempts of the call across profiles
	Attempts int
}

// ErrEmptyBody is returned by Decode when the response has no body.
var ErrEmptyBody = errors.New("response body is empty")

func newResponse(resp *transport.Response, profile string) *Response {
	return &Response{
		Status:  resp.StatusCode,
		OK:      transport.IsSuccessStatus(resp.StatusCode),
		Data:    decodeData(resp),
		Body:    resp.Body,
		Headers: resp.Headers,
		Profile: profile,
	}
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return ErrEmptyBody
	}
	return json.Unmarshal(r.Body, v)
}

// decodeData parses JSON bodies generically and keeps anything else as text.
func decodeData(resp *transport.Response) any {
	if len(resp.Body) == 0 {
		return nil
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" || strings.Contains(contentType, "json") {
		var v any
		if json.Unmarshal(resp.Body, &v) == nil {
			return v
		}
	}
	return string(resp.Body)
}
