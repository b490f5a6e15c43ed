package allerscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a gateway failure so callers can present different
// guidance for a dead backend versus a slow one.
type Kind int

const (
	KindServer Kind = iota
	KindNetwork
	KindTimeout
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation"
	default:
		return "server"
	}
}

// APIError is returned for every failure the gateway produces; it never
// swallows one silently.
type APIError struct {
	Kind       Kind
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("allerscan: HTTP %d (%s): %s", e.StatusCode, e.Kind, e.Detail)
	}
	return fmt.Sprintf("allerscan: %s: %s", e.Kind, e.Detail)
}

// KindOf extracts the failure kind from an error chain, defaulting to
// KindServer for errors the gateway did not produce.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindServer
}

// IsTimeout reports whether err is a deadline-exceeded gateway failure.
func IsTimeout(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindTimeout
}

// IsNetwork reports whether err means the backend was unreachable.
func IsNetwork(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNetwork
}

// IsNotFound reports whether err is a missing-record failure.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// classifyTransport maps an error from http.Client.Do into the taxonomy:
// a deadline produces KindTimeout, anything else that never reached the
// server produces KindNetwork.
func classifyTransport(err error) *APIError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &APIError{Kind: KindTimeout, Detail: err.Error()}
	}
	return &APIError{Kind: KindNetwork, Detail: err.Error()}
}

// newStatusError builds the error for a non-2xx response, pulling the
// human-readable detail out of the body when the backend sent one.
func newStatusError(status int, body []byte) *APIError {
	kind := KindServer
	if status == 404 {
		kind = KindNotFound
	}
	detail := statusDetail(body)
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d error", status)
	}
	return &APIError{Kind: kind, StatusCode: status, Detail: detail}
}

func statusDetail(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, s := range []string{payload.Detail, payload.Message, payload.Error} {
			if s != "" {
				return s
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
