package claims

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samvad-hq/remote-claims/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeResponse struct {
	body       []byte
	statusCode int
}

func (f fakeResponse) Body() []byte    { return f.body }
func (f fakeResponse) StatusCode() int { return f.statusCode }

type recordedCall struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// fakeClient records every call and replies with a canned response.
type fakeClient struct {
	mu     sync.Mutex
	calls  []recordedCall
	status int
	body   string
	err    error
}

func (f *fakeClient) Execute(_ context.Context, method, url string, header http.Header, body []byte) (httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: method, url: url, header: header.Clone(), body: body})
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return fakeResponse{body: []byte(f.body), statusCode: status}, nil
}

func (f *fakeClient) only(t *testing.T) recordedCall {
	t.Helper()
	require.Len(t, f.calls, 1, "expected exactly one outbound call")
	return f.calls[0]
}

func strPtr(s string) *string { return &s }

func TestFetchJSONSimpleGet(t *testing.T) {
	client := &fakeClient{body: `{"claim":"value"}`}
	fetcher := NewFetcher(client)

	doc, err := fetcher.FetchJSON(context.Background(),
		"https://claims.example.com/api/user",
		"application/json",
		map[string]string{"Authorization": "Bearer abc", "X-Tenant": "acme"},
		map[string]string{"user": "jane doe", "scope": "a&b"},
		nil, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"claim": "value"}, doc)

	call := client.only(t)
	assert.Equal(t, http.MethodGet, call.method)
	assert.Nil(t, call.body)

	u, err := url.Parse(call.url)
	require.NoError(t, err)
	assert.Equal(t, "/api/user", u.Path)
	assert.Equal(t, url.Values{"user": {"jane doe"}, "scope": {"a&b"}}, u.Query())

	assert.Equal(t, "application/json", call.header.Get("Content-Type"))
	assert.Equal(t, "Bearer abc", call.header.Get("Authorization"))
	assert.Equal(t, "acme", call.header.Get("X-Tenant"))
}

func TestFetchJSONFormPost(t *testing.T) {
	client := &fakeClient{body: `{"roles":["admin"]}`}
	fetcher := NewFetcher(client)

	doc, err := fetcher.FetchJSON(context.Background(),
		"https://claims.example.com/lookup?static=1",
		"application/x-www-form-urlencoded",
		nil,
		map[string]string{"static": "2", "q": "x"},
		map[string]string{"username": "jane", "client": "web app"},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"roles": []any{"admin"}}, doc)

	call := client.only(t)
	assert.Equal(t, http.MethodPost, call.method)

	form, err := url.ParseQuery(string(call.body))
	require.NoError(t, err)
	assert.Equal(t, url.Values{"username": {"jane"}, "client": {"web app"}}, form)

	u, err := url.Parse(call.url)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"static": {"2"}, "q": {"x"}}, u.Query(), "query parameters replace existing ones")
}

func TestFetchJSONEmptyFormStillPosts(t *testing.T) {
	client := &fakeClient{body: `true`}
	_, err := NewFetcher(client).FetchJSON(context.Background(),
		"https://claims.example.com", "text/plain", nil, nil, map[string]string{}, nil)
	require.NoError(t, err)

	call := client.only(t)
	assert.Equal(t, http.MethodPost, call.method)
	assert.Empty(t, call.body)
}

func TestFetchJSONGraphQL(t *testing.T) {
	client := &fakeClient{body: `{"data":{"user":{"group":"staff"}}}`}
	fetcher := NewFetcher(client)

	query := `query($id: String!) { user(id: $id) { group } }`
	_, err := fetcher.FetchJSON(context.Background(),
		"https://claims.example.com/graphql",
		"application/json",
		map[string]string{"X-Api-Key": "k"},
		map[string]string{"id": "42"},
		map[string]string{"ignored": "yes"},
		strPtr(query),
	)
	require.NoError(t, err)

	call := client.only(t)
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "https://claims.example.com/graphql", call.url, "graphql url carries no query string")
	assert.Equal(t, "k", call.header.Get("X-Api-Key"))

	var envelope struct {
		Query     string            `json:"query"`
		Variables map[string]string `json:"variables"`
	}
	require.NoError(t, json.Unmarshal(call.body, &envelope))
	assert.Equal(t, query, envelope.Query)
	assert.Equal(t, map[string]string{"id": "42"}, envelope.Variables)
}

func TestFetchGraphQLWithoutVariablesSendsEmptyObject(t *testing.T) {
	client := &fakeClient{body: `{}`}
	_, err := NewFetcher(client).Fetch(context.Background(), Request{
		BaseURL: "https://claims.example.com/graphql",
		Mode:    GraphQL{Query: "{ me { id } }"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"{ me { id } }","variables":{}}`, string(client.only(t).body))
}

func TestFetchCallerHeadersAreAddedAfterContentType(t *testing.T) {
	client := &fakeClient{body: `{}`}
	_, err := NewFetcher(client).Fetch(context.Background(), Request{
		BaseURL:     "https://claims.example.com",
		ContentType: "application/json",
		Headers:     map[string]string{"content-type": "text/plain"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"application/json", "text/plain"}, client.only(t).header.Values("Content-Type"))
}

func TestFetchNon200Status(t *testing.T) {
	client := &fakeClient{status: http.StatusNotFound, body: `{"error":"missing"}`}
	_, err := NewFetcher(client).FetchJSON(context.Background(),
		"https://claims.example.com/missing", "application/json", nil, nil, nil, nil)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindUnexpectedStatus, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, "https://claims.example.com/missing", fe.BaseURL)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "https://claims.example.com/missing")
}

func TestFetchOtherSuccessStatusesAreRejected(t *testing.T) {
	client := &fakeClient{status: http.StatusNoContent}
	_, err := NewFetcher(client).Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
	assert.True(t, IsKind(err, KindUnexpectedStatus))
}

func TestFetchParseFailures(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not-json"},
		{name: "empty body", body: ""},
		{name: "trailing data", body: `{"claim":"value"} extra`},
		{name: "two values", body: `{} {}`},
		{name: "truncated", body: `{"claim":`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{body: tc.body}
			_, err := NewFetcher(client).Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
			require.Error(t, err)
			assert.True(t, IsKind(err, KindParse), "expected parse error, got %v", err)
			assert.Contains(t, err.Error(), "https://claims.example.com")
		})
	}
}

func TestFetchParsesScalarsAndNumbers(t *testing.T) {
	client := &fakeClient{body: " 12345678901234567890 \n"}
	doc, err := NewFetcher(client).Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), doc)
}

func TestFetchInvalidURIDoesNotCallTransport(t *testing.T) {
	for _, raw := range []string{"not a url", "", "/relative/path", "https://", "http://[::1"} {
		t.Run(raw, func(t *testing.T) {
			client := &fakeClient{body: `{}`}
			_, err := NewFetcher(client).FetchJSON(context.Background(), raw, "application/json", nil, nil, nil, nil)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindInvalidURI), "expected invalid uri error, got %v", err)
			assert.Empty(t, client.calls)
		})
	}
}

func TestFetchInvalidURIInGraphQLMode(t *testing.T) {
	client := &fakeClient{body: `{}`}
	_, err := NewFetcher(client).FetchJSON(context.Background(), "not a url", "application/json", nil, nil, nil, strPtr("{ me }"))
	assert.True(t, IsKind(err, KindInvalidURI))
	assert.Empty(t, client.calls)
}

func TestFetchTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	client := &fakeClient{err: cause}
	_, err := NewFetcher(client).Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport))
	assert.ErrorIs(t, err, cause)
	assert.Len(t, client.calls, 1, "transport failures are not retried")
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, SimpleGet{}, ModeFor(nil, nil))
	assert.Equal(t, FormPost{Fields: map[string]string{}}, ModeFor(map[string]string{}, nil))
	assert.Equal(t, GraphQL{Query: "{ a }"}, ModeFor(map[string]string{"x": "y"}, strPtr("{ a }")))
	assert.Equal(t, GraphQL{Query: ""}, ModeFor(nil, strPtr("")))
}

func TestFetcherRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	client := &fakeClient{body: `{}`}
	fetcher := NewFetcher(client, WithMetrics(reg))

	_, err := fetcher.Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
	require.NoError(t, err)
	client.status = http.StatusInternalServerError
	_, err = fetcher.Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(fetcher.metrics.fetchesTotal.WithLabelValues("get", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fetcher.metrics.fetchesTotal.WithLabelValues("get", "unexpected_status")))
	assert.Equal(t, 1, testutil.CollectAndCount(fetcher.metrics.fetchDuration))
}

func TestFetcherRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	client := &fakeClient{body: "not-json"}
	_, err := NewFetcher(client, WithTracerProvider(tp)).Fetch(context.Background(), Request{
		BaseURL: "https://claims.example.com",
		Mode:    FormPost{},
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "claims.Fetch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestFetcherAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/graphql":
			raw, _ := io.ReadAll(r.Body)
			var envelope map[string]any
			if err := json.Unmarshal(raw, &envelope); err != nil || r.URL.RawQuery != "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"echo":` + string(mustJSON(envelope["variables"])) + `}}`))
		case "/form":
			if err := r.ParseForm(); err != nil || r.Method != http.MethodPost {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"user":"` + r.PostForm.Get("user") + `","q":"` + r.URL.Query().Get("q") + `"}`))
		default:
			if r.Header.Get("X-Key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"claim":"value"}`))
		}
	}))
	defer srv.Close()

	fetcher := NewFetcher(httpclient.NewRestyClient(0))
	ctx := context.Background()

	doc, err := fetcher.FetchJSON(ctx, srv.URL+"/get", "application/json", map[string]string{"X-Key": "secret"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"claim": "value"}, doc)

	_, err = fetcher.FetchJSON(ctx, srv.URL+"/get", "application/json", nil, nil, nil, nil)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusUnauthorized, fe.StatusCode)

	doc, err = fetcher.FetchJSON(ctx, srv.URL+"/form", "application/x-www-form-urlencoded", nil,
		map[string]string{"q": "1"}, map[string]string{"user": "jane"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "jane", "q": "1"}, doc)

	doc, err = fetcher.FetchJSON(ctx, srv.URL+"/graphql", "application/json", nil,
		map[string]string{"id": "7"}, nil, strPtr("query { echo }"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"data": map[string]any{"echo": map[string]any{"id": "7"}}}, doc)
}

func TestFetchPointerModesSendTheirBody(t *testing.T) {
	client := &fakeClient{body: `{}`}
	fetcher := NewFetcher(client)

	_, err := fetcher.Fetch(context.Background(), Request{
		BaseURL:         "https://claims.example.com/graphql",
		QueryParameters: map[string]string{"id": "1"},
		Mode:            &GraphQL{Query: "{ me }"},
	})
	require.NoError(t, err)
	_, err = fetcher.Fetch(context.Background(), Request{
		BaseURL: "https://claims.example.com/form",
		Mode:    &FormPost{Fields: map[string]string{"user": "jane"}},
	})
	require.NoError(t, err)

	require.Len(t, client.calls, 2)
	assert.Equal(t, "https://claims.example.com/graphql", client.calls[0].url)
	assert.JSONEq(t, `{"query":"{ me }","variables":{"id":"1"}}`, string(client.calls[0].body))
	assert.Equal(t, http.MethodPost, client.calls[1].method)
	assert.Equal(t, "user=jane", string(client.calls[1].body))
}

type embeddedMode struct{ SimpleGet }

func TestFetchUnsupportedModeFailsWithoutCall(t *testing.T) {
	for name, mode := range map[string]Mode{
		"nil pointer": (*GraphQL)(nil),
		"embedded":    embeddedMode{},
	} {
		t.Run(name, func(t *testing.T) {
			client := &fakeClient{body: `{}`}
			_, err := NewFetcher(client).Fetch(context.Background(), Request{
				BaseURL: "https://claims.example.com",
				Mode:    mode,
			})
			assert.True(t, IsKind(err, KindTransport), "got %v", err)
			assert.Empty(t, client.calls)
		})
	}
}

func TestFetcherRejectsRedirects(t *testing.T) {
	var methods []string
	mux := http.NewServeMux()
	mux.HandleFunc("/claim", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		_, _ = w.Write([]byte(`{"claim":"login-page"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	doc, err := NewFetcher(nil).FetchJSON(context.Background(), srv.URL+"/claim",
		"application/x-www-form-urlencoded", nil, nil, map[string]string{"user": "jane"}, nil)
	assert.Nil(t, doc)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindUnexpectedStatus, fe.Kind)
	assert.Equal(t, http.StatusFound, fe.StatusCode)
	assert.Equal(t, []string{http.MethodPost}, methods)
}

func TestFetcherCallsDoNotShareCookies(t *testing.T) {
	var cookies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = append(cookies, r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "user-a", Path: "/"})
		_, _ = w.Write([]byte(`{"claim":"value"}`))
	}))
	defer srv.Close()

	fetcher := NewFetcher(nil)
	for i := 0; i < 2; i++ {
		_, err := fetcher.Fetch(context.Background(), Request{BaseURL: srv.URL})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"", ""}, cookies)
}

func TestFetchConcurrentCallsAreIndependent(t *testing.T) {
	client := &fakeClient{body: `{"ok":true}`}
	fetcher := NewFetcher(client)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fetcher.Fetch(context.Background(), Request{BaseURL: "https://claims.example.com"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, client.calls, 16)
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
