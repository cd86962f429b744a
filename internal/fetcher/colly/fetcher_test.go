package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestIdentityPoolHeaders(t *testing.T) {
	t.Parallel()

	pool := NewIdentityPool([]string{" agent-a ", "", "agent-b"})
	require.Equal(t, []string{"agent-a", "agent-b"}, pool.Agents())

	pool.pick = func(int) int { return 1 }
	headers := pool.Headers(http.Header{"accept-language": {"de-DE"}, "X-Empty": nil})
	require.Equal(t, "agent-b", headers.Get("User-Agent"))
	require.Equal(t, "de-DE", headers.Get("Accept-Language"), "caller overrides win")
	require.Equal(t, "gzip, deflate, br", headers.Get("Accept-Encoding"))
	require.Equal(t, "1", headers.Get("Upgrade-Insecure-Requests"))
	require.Equal(t, "keep-alive", headers.Get("Connection"))
	require.Empty(t, headers.Values("X-Empty"))
}

func TestIdentityPoolDefaultsAndSpread(t *testing.T) {
	t.Parallel()

	pool := NewIdentityPool(nil)
	require.Equal(t, DefaultUserAgents, pool.Agents())

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[pool.Headers(nil).Get("User-Agent")] = true
	}
	require.Len(t, seen, len(DefaultUserAgents), "every identity should be drawn eventually")
}

func TestFetchSendsIdentityAndReturnsBody(t *testing.T) {
	t.Parallel()

	type captured struct {
		ua, lang, method, body string
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen <- captured{
			ua:     r.Header.Get("User-Agent"),
			lang:   r.Header.Get("Accept-Language"),
			method: r.Method,
			body:   string(b),
		}
		w.Header().Set("X-Resp", "ok")
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgents: []string{"test-agent"}, Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:    srv.URL + "/search",
		Method: http.MethodPost,
		Body:   []byte(`{"q":1}`),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>hello</html>", string(resp.Body))
	require.Equal(t, "ok", resp.Headers.Get("X-Resp"))
	got := <-seen
	require.Equal(t, "test-agent", got.ua)
	require.Equal(t, "en-US,en;q=0.9", got.lang)
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, `{"q":1}`, got.body)
}

func TestFetchReturnsErrorStatusBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("captcha"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
		require.NoError(t, err, "revisits of the same url must be allowed")
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "captcha", string(resp.Body))
	}
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	t.Parallel()

	const page = "<html><body>compressed listing page</body></html>"
	encoders := map[string]func(io.Writer) io.WriteCloser{
		"gzip":    func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"br":      func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
		"deflate": func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) },
	}
	for name, newEncoder := range encoders {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			enc := newEncoder(&buf)
			_, err := enc.Write([]byte(page))
			require.NoError(t, err)
			require.NoError(t, enc.Close())
			payload := buf.Bytes()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Encoding", name)
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			resp, err := New(Config{Timeout: 5 * time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
			require.NoError(t, err)
			require.Equal(t, page, string(resp.Body))
			require.Empty(t, resp.Headers.Get("Content-Encoding"))
		})
	}
}

func TestFetchUndecodableBodyIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("definitely not gzip"))
	}))
	defer srv.Close()

	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, srv.URL, fetchErr.URL)
}

func TestFetchTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: addr})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, http.Header{"User-Agent": {"ua"}, "X-Trace": {"yes"}}, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"User-Agent": {"colly"}}}
	hooks.onRequest(collyReq)
	require.Equal(t, []string{"ua"}, collyReq.Headers.Values("User-Agent"))
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
