package claims

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the ways a fetch can fail.
type ErrorKind int

const (
	KindInvalidURI ErrorKind = iota + 1
	KindTransport
	KindUnexpectedStatus
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidURI:
		return "invalid_uri"
	case KindTransport:
		return "transport"
	case KindUnexpectedStatus:
		return "unexpected_status"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// FetchError is returned for every failed fetch.
type FetchError struct {
	Kind    ErrorKind
	Message string
	BaseURL string
	// StatusCode is set for KindUnexpectedStatus.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("remote claim %s: %s (url %s)", e.Kind, e.Message, e.BaseURL)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

func invalidURIError(baseURL string, cause error) *FetchError {
	return &FetchError{Kind: KindInvalidURI, Message: "wrong uri syntax", BaseURL: baseURL, Err: cause}
}

func transportError(baseURL string, cause error) *FetchError {
	return &FetchError{Kind: KindTransport, Message: "error when accessing remote claim", BaseURL: baseURL, Err: cause}
}

func modeError(baseURL string, mode Mode) *FetchError {
	return &FetchError{
		Kind:    KindTransport,
		Message: "error when accessing remote claim",
		BaseURL: baseURL,
		Err:     fmt.Errorf("unsupported request mode %T", mode),
	}
}

func statusError(baseURL string, status int) *FetchError {
	return &FetchError{
		Kind:       KindUnexpectedStatus,
		Message:    fmt.Sprintf("wrong status received for remote claim - expected: 200, received: %d", status),
		BaseURL:    baseURL,
		StatusCode: status,
	}
}

func parseError(baseURL string, cause error) *FetchError {
	return &FetchError{Kind: KindParse, Message: "error when parsing response for remote claim", BaseURL: baseURL, Err: cause}
}
