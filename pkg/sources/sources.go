package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samvad-hq/remote-claims/pkg/claims"
	"gopkg.in/yaml.v3"
)

// Source describes one remote claim endpoint. A nil FormParameters map means
// GET; a set GraphQLQuery makes the call a GraphQL POST.
type Source struct {
	ID              string            `json:"id" yaml:"id"`
	URL             string            `json:"url" yaml:"url"`
	ContentType     string            `json:"content_type" yaml:"content_type"`
	Headers         map[string]string `json:"headers" yaml:"headers"`
	QueryParameters map[string]string `json:"query_parameters" yaml:"query_parameters"`
	FormParameters  map[string]string `json:"form_parameters" yaml:"form_parameters"`
	GraphQLQuery    *string           `json:"graphql_query" yaml:"graphql_query"`
}

// Overrides are merged over a source's headers and query parameters.
type Overrides struct {
	Headers         map[string]string
	QueryParameters map[string]string
}

type fileRegistry struct {
	Sources []Source `json:"sources" yaml:"sources"`
}

// Registry holds validated sources keyed by id.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
	idx     map[string]Source
}

// LoadRegistry loads sources from path. Sources without a content type get defaultContentType.
func LoadRegistry(path, defaultContentType string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	fileReg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(fileReg.Sources) == 0 {
		return nil, errors.New("sources file contains no sources entries")
	}

	reg := &Registry{
		sources: make([]Source, len(fileReg.Sources)),
		idx:     make(map[string]Source, len(fileReg.Sources)),
	}
	for i := range fileReg.Sources {
		src := sanitizeSource(fileReg.Sources[i], defaultContentType)
		if err := validateSource(src); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, exists := reg.idx[src.ID]; exists {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		reg.sources[i] = src
		reg.idx[src.ID] = src
	}
	return reg, nil
}

type unmarshalFn func([]byte, any) error

func parseRegistry(data []byte, ext string) (fileRegistry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg fileRegistry
		if err := d.fn(data, &reg); err != nil {
			errs = append(errs, fmt.Errorf("decode %s sources: %w", d.name, err))
			continue
		}
		return reg, nil
	}
	if len(errs) == 0 {
		return fileRegistry{}, fmt.Errorf("sources file extension %q not recognized (expected YAML or JSON)", ext)
	}
	return fileRegistry{}, errors.Join(errs...)
}

func sanitizeSource(s Source, defaultContentType string) Source {
	s.ID = strings.TrimSpace(s.ID)
	s.URL = strings.TrimSpace(s.URL)
	s.ContentType = strings.TrimSpace(s.ContentType)
	if s.ContentType == "" {
		s.ContentType = strings.TrimSpace(defaultContentType)
	}
	s.Headers = sanitizeMap(s.Headers)
	s.QueryParameters = sanitizeMap(s.QueryParameters)
	if s.FormParameters != nil {
		// keep an empty, non-nil map: it still selects a form POST
		form := sanitizeMap(s.FormParameters)
		if form == nil {
			form = map[string]string{}
		}
		s.FormParameters = form
	}
	return s
}

// sanitizeMap trims keys and drops empty keys. Values are kept verbatim.
func sanitizeMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func validateSource(s Source) error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.URL == "" {
		return fmt.Errorf("url is required for source %q", s.ID)
	}
	if u, err := url.Parse(s.URL); err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url for source %q must be an absolute http(s) url", s.ID)
	}
	if s.ContentType == "" {
		return fmt.Errorf("content_type is required for source %q", s.ID)
	}
	if s.GraphQLQuery != nil {
		if err := claims.ValidateGraphQLQuery(*s.GraphQLQuery); err != nil {
			return fmt.Errorf("graphql_query for source %q: %w", s.ID, err)
		}
	}
	return nil
}

// ByID returns the source with the given id.
func (r *Registry) ByID(id string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Source{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.idx[id]
	return s, ok
}

// All returns the sources in file order.
func (r *Registry) All() []Source {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// IDs returns the sorted source ids.
func (r *Registry) IDs() []string {
	all := r.All()
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// ModeName reports which request shape the source uses: graphql, form or get.
func (s Source) ModeName() string {
	switch claims.ModeFor(s.FormParameters, s.GraphQLQuery).(type) {
	case claims.GraphQL:
		return "graphql"
	case claims.FormPost:
		return "form"
	default:
		return "get"
	}
}

// Request builds the claims request for this source with overrides applied.
func (s Source) Request(o Overrides) claims.Request {
	return claims.Request{
		BaseURL:         s.URL,
		ContentType:     s.ContentType,
		Headers:         merge(s.Headers, o.Headers),
		QueryParameters: merge(s.QueryParameters, o.QueryParameters),
		Mode:            claims.ModeFor(s.FormParameters, s.GraphQLQuery),
	}
}

func merge(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
