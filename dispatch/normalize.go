package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/casedesk/relay/transport"
)

// RawFailure is one unsuccessful attempt as seen by the transport. Response is
// nil when nothing came back; Aborted is true when the caller cancelled.
type RawFailure struct {
	Response *transport.Response
	Err      error
	Aborted  bool
}

// unavailableCodes are structured backend codes meaning the data store is down.
var unavailableCodes = map[string]struct{}{
	"DB_UNAVAILABLE":       {},
	"DATABASE_UNAVAILABLE": {},
	"SERVICE_UNAVAILABLE":  {},
}

// unavailableVocabulary catches backends that only report the outage in prose.
var unavailableVocabulary = regexp.MustCompile(`(?i)` +
	`\b(database|db)\b.{0,40}\b(unavailable|down|unreachable|timed? ?out|connection)\b` +
	`|connection (refused|reset|timed out|terminated|lost)` +
	`|\b(ECONNREFUSED|ETIMEDOUT|ECONNRESET|EHOSTUNREACH)\b` +
	`|too many connections|could not connect|server has gone away`)

const maxTextMessage = 512

// Normalize classifies a failed attempt. It is a pure function of raw.
func Normalize(raw RawFailure) *Error {
	if raw.Response == nil {
		return normalizeNoResponse(raw)
	}

	resp := raw.Response
	message, code := extractMessage(resp)
	e := &Error{Status: resp.StatusCode, Message: message, Code: code, Body: resp.Body}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		e.Kind = KindClientError
	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		e.Kind = KindServerError
	default:
		e.Kind = KindClientError
	}

	if dataStoreUnavailable(resp.StatusCode, code, message) {
		e.Kind = KindServerError
	}
	return e
}

func normalizeNoResponse(raw RawFailure) *Error {
	var reqErr *transport.RequestError
	switch {
	case raw.Aborted || errors.Is(raw.Err, context.Canceled):
		return &Error{Kind: KindUnknown, Cancelled: true, Err: raw.Err}
	case errors.As(raw.Err, &reqErr):
		return &Error{Kind: KindUnknown, Err: raw.Err}
	case isTimeout(raw.Err):
		return &Error{Kind: KindTimeout, Err: raw.Err}
	default:
		return &Error{Kind: KindNetwork, Err: raw.Err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func dataStoreUnavailable(status int, code, message string) bool {
	if _, ok := unavailableCodes[strings.ToUpper(code)]; ok {
		return true
	}
	if status == http.StatusServiceUnavailable {
		return true
	}
	return message != "" && unavailableVocabulary.MatchString(message)
}

// extractMessage returns the backend's own message verbatim, falling back to
// the text body and then to the status text.
func extractMessage(resp *transport.Response) (message, code string) {
	body := resp.Body
	var fields map[string]json.RawMessage
	if len(body) > 0 && json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"message", "error", "msg", "detail"} {
			if m := stringField(fields[key]); m != "" {
				message = m
				break
			}
		}
		for _, key := range []string{"code", "error_code", "errorCode"} {
			if c := stringField(fields[key]); c != "" {
				code = c
				break
			}
		}
		if message != "" {
			return message, code
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && utf8.ValidString(text) && !looksLikeMarkup(text) {
		if len(text) > maxTextMessage {
			text = text[:maxTextMessage]
		}
		return text, ""
	}
	return http.StatusText(resp.StatusCode), code
}

// stringField reads a JSON string, or the message of a nested {"message": "..."} object.
func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &nested) == nil {
		return nested.Message
	}
	return ""
}

func looksLikeMarkup(text string) bool {
	return strings.HasPrefix(text, "<")
}
