package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRepo(t *testing.T) {
	tests := []struct {
		name      string
		slug      string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{
			name:      "valid slug",
			slug:      "golang/go",
			wantOwner: "golang",
			wantName:  "go",
		},
		{
			name:    "missing separator",
			slug:    "golang",
			wantErr: true,
		},
		{
			name:    "empty owner",
			slug:    "/go",
			wantErr: true,
		},
		{
			name:    "empty name",
			slug:    "golang/",
			wantErr: true,
		},
		{
			name:    "extra separator",
			slug:    "golang/go/src",
			wantErr: true,
		},
		{
			name:    "empty slug",
			slug:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, name, err := ParseRepo(tt.slug)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepo(%q) error = %v, wantErr %v", tt.slug, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if owner != tt.wantOwner || name != tt.wantName {
				t.Errorf("ParseRepo(%q) = %q, %q, want %q, %q", tt.slug, owner, name, tt.wantOwner, tt.wantName)
			}
		})
	}
}

func TestNextPageURL(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			name:   "next and last",
			header: `<https://api.github.com/repos/o/r/issues?page=2>; rel="next", <https://api.github.com/repos/o/r/issues?page=5>; rel="last"`,
			want:   "https://api.github.com/repos/o/r/issues?page=2",
		},
		{
			name:   "last only",
			header: `<https://api.github.com/repos/o/r/issues?page=5>; rel="last"`,
			want:   "",
		},
		{
			name:   "empty header",
			header: "",
			want:   "",
		},
		{
			name:   "next in later position",
			header: `<https://x/prev>; rel="prev", <https://x/next>; rel="next"`,
			want:   "https://x/next",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextPageURL(tt.header); got != tt.want {
				t.Errorf("nextPageURL(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

// testClient points a Client at a test server with fast retries.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient("test-token", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	c.retryDelay = time.Millisecond
	c.attempts = 2
	return c
}

func TestGetJSONRetriesServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[{"login":"alice"}]`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	var out []struct {
		Login string `json:"login"`
	}
	next, err := c.getJSON(context.Background(), srv.URL+"/anything", &out)
	if err != nil {
		t.Fatalf("getJSON() error = %v", err)
	}
	if next != "" {
		t.Errorf("next = %q, want empty", next)
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2 (one retry)", calls)
	}
	if len(out) != 1 || out[0].Login != "alice" {
		t.Errorf("decoded %+v, want one alice record", out)
	}
}

func TestGetJSONDoesNotRetryClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	var out []any
	if _, err := c.getJSON(context.Background(), srv.URL+"/missing", &out); err == nil {
		t.Fatal("getJSON() error = nil, want error for 404")
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestGetJSONSendsAuthHeaders(t *testing.T) {
	var gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	var out []any
	if _, err := c.getJSON(context.Background(), srv.URL+"/", &out); err != nil {
		t.Fatalf("getJSON() error = %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
	if gotAccept != "application/vnd.github+json" {
		t.Errorf("Accept = %q, want %q", gotAccept, "application/vnd.github+json")
	}
}

func TestWaitForRateLimitPastReset(t *testing.T) {
	// A reset timestamp in the past must not block even when the budget is
	// exhausted.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "2")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(-time.Minute).Unix()))
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	var out []any
	start := time.Now()
	if _, err := c.getJSON(context.Background(), srv.URL+"/", &out); err != nil {
		t.Fatalf("getJSON() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("getJSON() blocked %v on an already-reset rate limit", elapsed)
	}
}

func TestGetJSONCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(t, srv)
	var out []any
	if _, err := c.getJSON(ctx, srv.URL+"/", &out); err == nil {
		t.Fatal("getJSON() error = nil, want context error")
	}
}
