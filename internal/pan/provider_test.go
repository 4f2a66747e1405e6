package pan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testToken   = "a1b2c3d4e5f6"
	testSekey   = "sekey%2Bvalue"
	testShareUK = 1001
	testShareID = 2002
	testFsID    = 3003
)

// newTestClient creates a Client pointing at the given httptest server with
// deterministic nonces.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(ClientConfig{BaseURL: url, Timeout: 5 * time.Second}, slog.Default())
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }
	c.newLogID = func() string { return "test-logid" }

	return c
}

// newTestSession returns a logged-in session with a cached token.
func newTestSession(t *testing.T, c *Client) *Session {
	t.Helper()

	s, err := c.NewSession()
	require.NoError(t, err)
	s.SetCookies(map[string]string{CookieLogin: "bduss-value", CookieSecure: "stoken-value"})
	s.setToken(testToken)

	return s
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

const lockedPage = `<html><body><div class="verify-input">enter code</div></body></html>`

// sharePage renders a landing page in the locals.mset format.
func sharePage(files ...string) string {
	list := make([]string, 0, len(files))
	for i, name := range files {
		list = append(list, fmt.Sprintf(
			`{"fs_id":%d,"server_filename":%q,"path":%q,"size":1024,"isdir":0}`,
			testFsID+i, name, "/"+name))
	}

	return fmt.Sprintf(`<html><script>locals.mset({"uk":%d,"shareid":"%d","file_list":[%s]});</script></html>`,
		testShareUK, testShareID, strings.Join(list, ","))
}

// fakeProvider is an in-process stand-in for the provider's web API,
// covering the share, transfer and listing endpoints.
type fakeProvider struct {
	t *testing.T

	surl     string
	password string
	files    []string

	mu       sync.Mutex
	verified bool
	own      map[string]bool // paths in the account's storage
	requests []*http.Request
	forms    map[string]map[string][]string

	transferErrno int
	transferMsg   string

	// randskOnly makes verify return the security key in the body without
	// setting the cookie.
	randskOnly bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	return &fakeProvider{
		t:        t,
		surl:     "ABC123",
		password: "xyz9",
		files:    []string{"game.zip"},
		own:      map[string]bool{},
		forms:    map[string]map[string][]string{},
	}
}

func (p *fakeProvider) start() *httptest.Server {
	p.t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/gettemplatevariable", p.handleTemplate)
	mux.HandleFunc("/share/init", p.handleLanding)
	mux.HandleFunc("/share/verify", p.handleVerify)
	mux.HandleFunc("/share/transfer", p.handleTransfer)

	srv := httptest.NewServer(p.record(mux))
	p.t.Cleanup(srv.Close)

	return srv
}

func (p *fakeProvider) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(p.t, r.ParseForm())
		}

		p.mu.Lock()
		p.requests = append(p.requests, r)
		if r.Method == http.MethodPost {
			p.forms[r.URL.Path] = r.PostForm
		}
		p.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (p *fakeProvider) form(path string) map[string][]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.forms[path]
}

func (p *fakeProvider) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(p.t, w, map[string]any{"errno": 0, "result": map[string]any{"bdstoken": testToken}})
}

func (p *fakeProvider) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("surl") != p.surl {
		http.NotFound(w, r)
		return
	}

	p.mu.Lock()
	verified := p.verified
	p.mu.Unlock()

	w.Header().Set("Content-Type", "text/html")

	if !verified {
		fmt.Fprint(w, lockedPage)
		return
	}

	fmt.Fprint(w, sharePage(p.files...))
}

func (p *fakeProvider) handleVerify(w http.ResponseWriter, r *http.Request) {
	pwd := r.PostForm.Get("pwd")

	switch {
	case pwd == p.password:
		p.mu.Lock()
		p.verified = true
		p.mu.Unlock()

		if !p.randskOnly {
			http.SetCookie(w, &http.Cookie{Name: CookieSecurityKey, Value: testSekey, Path: "/"})
		}

		writeJSON(p.t, w, map[string]any{"errno": 0, "randsk": testSekey})
	case pwd == "":
		writeJSON(p.t, w, map[string]any{"errno": -12})
	default:
		writeJSON(p.t, w, map[string]any{"errno": -9, "show_msg": "extraction code incorrect"})
	}
}

func (p *fakeProvider) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if p.transferErrno != 0 {
		writeJSON(p.t, w, map[string]any{"errno": p.transferErrno, "show_msg": p.transferMsg})
		return
	}

	dest := r.PostForm.Get("to")
	ondup := r.PostForm.Get("ondup")

	var fsids []int64
	require.NoError(p.t, json.Unmarshal([]byte(r.PostForm.Get("from_fsids")), &fsids))

	p.mu.Lock()
	defer p.mu.Unlock()

	list := make([]map[string]any, 0, len(fsids))

	for _, id := range fsids {
		idx := int(id - testFsID)
		if idx < 0 || idx >= len(p.files) {
			continue
		}

		name := p.files[idx]
		to := path.Join(dest, name)

		if p.own[to] {
			switch ondup {
			case string(DuplicateRenameCopy):
				ext := path.Ext(name)
				to = path.Join(dest, strings.TrimSuffix(name, ext)+"(1)"+ext)
			case string(DuplicateFail):
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"errno":4,"show_msg":"file already exists"}`)

				return
			}
		}

		p.own[to] = true
		list = append(list, map[string]any{
			"from": "/" + name, "to": to, "from_fs_id": id, "to_fs_id": id + 1000,
		})
	}

	writeJSON(p.t, w, map[string]any{
		"errno":    0,
		"task_id":  0,
		"show_msg": "transfer complete",
		"extra":    map[string]any{"list": list},
	})
}
