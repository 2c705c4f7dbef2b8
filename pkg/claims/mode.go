package claims

import "net/http"

// Request describes one outbound claim call.
type Request struct {
	BaseURL         string
	ContentType     string
	Headers         map[string]string
	QueryParameters map[string]string
	Mode            Mode
}

// Mode selects how a Request is sent. It is one of GraphQL, FormPost or SimpleGet.
type Mode interface {
	method() string
	name() string
}

// GraphQL posts a {"query", "variables"} envelope to the base URL. The
// variables are the request's query parameters, which are not appended to the URL.
type GraphQL struct {
	Query string
}

// FormPost appends the query parameters to the URL and posts Fields url-encoded.
type FormPost struct {
	Fields map[string]string
}

// SimpleGet appends the query parameters to the URL and sends a GET.
type SimpleGet struct{}

func (GraphQL) method() string   { return http.MethodPost }
func (FormPost) method() string  { return http.MethodPost }
func (SimpleGet) method() string { return http.MethodGet }

func (GraphQL) name() string   { return "graphql" }
func (FormPost) name() string  { return "form" }
func (SimpleGet) name() string { return "get" }

// ModeFor maps nullable call inputs to a Mode. A non-nil query always wins;
// otherwise a non-nil form map (even an empty one) selects FormPost.
func ModeFor(formParameters map[string]string, graphQLQuery *string) Mode {
	switch {
	case graphQLQuery != nil:
		return GraphQL{Query: *graphQLQuery}
	case formParameters != nil:
		return FormPost{Fields: formParameters}
	default:
		return SimpleGet{}
	}
}

// unsupportedMode stands in for a Mode that buildRequest cannot send.
type unsupportedMode struct{}

func (unsupportedMode) method() string { return "" }
func (unsupportedMode) name() string   { return "unsupported" }

// modeOrDefault maps a nil Mode to SimpleGet and dereferences pointer modes.
func modeOrDefault(m Mode) Mode {
	switch v := m.(type) {
	case nil:
		return SimpleGet{}
	case *GraphQL:
		if v == nil {
			return unsupportedMode{}
		}
		return *v
	case *FormPost:
		if v == nil {
			return unsupportedMode{}
		}
		return *v
	case *SimpleGet:
		if v == nil {
			return unsupportedMode{}
		}
		return *v
	default:
		return m
	}
}
