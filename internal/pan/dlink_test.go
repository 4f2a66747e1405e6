package pan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	got  string
	url  string
	fail bool
}

func (r *stubResolver) ResolvePage(_ context.Context, pageURL string) (string, error) {
	r.got = pageURL
	if r.fail {
		return "", errors.New("browser crashed")
	}

	return r.url, nil
}

// dlinkServer serves /api/filemetas pointing at /file, and /file
// responding according to mode.
func dlinkServer(t *testing.T, mode string) *httptest.Server {
	t.Helper()

	var srv *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/api/filemetas", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "[77]", r.URL.Query().Get("fsids"))
		assert.Equal(t, "1", r.URL.Query().Get("dlink"))
		writeJSON(t, w, map[string]any{"errno": 0, "info": []map[string]any{
			{"fs_id": 77, "path": "/a.zip", "dlink": srv.URL + "/file?fid=77"},
		}})
	})
	mux.HandleFunc("/file", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultDownloadUserAgent, r.Header.Get("User-Agent"))

		switch mode {
		case "redirect":
			http.Redirect(w, r, "https://cdn.example.com/a.zip?sign=abc", http.StatusFound)
		case "direct":
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "x")
		case "page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html>click to download</html>")
		case "expired":
			w.WriteHeader(http.StatusForbidden)
		}
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestResolveDirectLink_Redirect(t *testing.T) {
	srv := dlinkServer(t, "redirect")
	c := newTestClient(t, srv.URL)

	got, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.zip?sign=abc", got)
}

func TestResolveDirectLink_AlreadyDirect(t *testing.T) {
	srv := dlinkServer(t, "direct")
	c := newTestClient(t, srv.URL)

	got, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/file?fid=77", got)
}

func TestResolveDirectLink_PageDelegatesToResolver(t *testing.T) {
	srv := dlinkServer(t, "page")
	resolver := &stubResolver{url: "https://cdn.example.com/final.zip"}

	c := newTestClient(t, srv.URL)
	c.cfg.Resolver = resolver

	got, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/final.zip", got)
	assert.Equal(t, srv.URL+"/file?fid=77", resolver.got)
}

func TestResolveDirectLink_PageWithoutResolver(t *testing.T) {
	srv := dlinkServer(t, "page")
	c := newTestClient(t, srv.URL)

	_, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	assert.ErrorIs(t, err, ErrParse)
}

func TestResolveDirectLink_ResolverFailure(t *testing.T) {
	srv := dlinkServer(t, "page")
	c := newTestClient(t, srv.URL)
	c.cfg.Resolver = &stubResolver{fail: true}

	_, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser crashed")
}

func TestResolveDirectLink_Expired(t *testing.T) {
	srv := dlinkServer(t, "expired")
	c := newTestClient(t, srv.URL)

	_, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestResolveDirectLink_NoDLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"errno":0,"info":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	assert.ErrorIs(t, err, ErrParse)
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestResolveDirectLink_SendsLoginCookiesToFileHost(t *testing.T) {
	var (
		mu      sync.Mutex
		cookies = map[string]string{}
	)

	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		cookies[r.URL.Host] = r.Header.Get("Cookie")
		mu.Unlock()

		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    r,
		}

		switch r.URL.Host {
		case "pan.example.com":
			resp.Body = io.NopCloser(strings.NewReader(
				`{"errno":0,"info":[{"fs_id":77,"path":"/a.zip","dlink":"https://d.pcs.example.com/file?fid=77"}]}`))
		case "d.pcs.example.com":
			resp.StatusCode = http.StatusFound
			resp.Header.Set("Location", "https://cdn.example.com/a.zip?sign=abc")
		}

		return resp, nil
	})

	c := NewClient(ClientConfig{BaseURL: "https://pan.example.com", Transport: transport}, nil)

	got, err := c.ResolveDirectLink(context.Background(), newTestSession(t, c), 77)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.zip?sign=abc", got)

	mu.Lock()
	defer mu.Unlock()

	assert.Contains(t, cookies["pan.example.com"], "BDUSS=bduss-value")
	assert.Contains(t, cookies["d.pcs.example.com"], "BDUSS=bduss-value")
	assert.Contains(t, cookies["d.pcs.example.com"], "STOKEN=stoken-value")
}
