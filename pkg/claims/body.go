package claims

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
)

// Document is a parsed JSON value: nil, bool, json.Number, string, []any or map[string]any.
type Document any

type graphQLEnvelope struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

// parseBaseURL accepts only absolute URLs with a host.
func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", raw)
	}
	return u, nil
}

// withQuery sets each parameter on the URL, replacing same-named ones already present.
func withQuery(u *url.URL, params map[string]string) string {
	if len(params) == 0 {
		return u.String()
	}
	out := *u
	q := out.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	out.RawQuery = q.Encode()
	return out.String()
}

func encodeForm(fields map[string]string) []byte {
	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return []byte(values.Encode())
}

func encodeGraphQL(query string, variables map[string]string) ([]byte, error) {
	if variables == nil {
		variables = map[string]string{}
	}
	return json.Marshal(graphQLEnvelope{Query: query, Variables: variables})
}

// parseDocument decodes exactly one JSON value; empty bodies and trailing data are rejected.
func parseDocument(body []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty response body")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after json value")
	}
	return doc, nil
}
