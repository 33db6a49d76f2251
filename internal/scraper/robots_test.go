package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/harrow/pkg/httpclient"
)

const testRobots = `
User-agent: *
Disallow: /search
Allow: /search/public

User-agent: BadBot
Disallow: /
`

func robotsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<h1>page</h1>"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRobotsTxtAuditor_IsAllowed(t *testing.T) {
	ts := robotsServer(t, http.StatusOK, testRobots)

	client, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, MaxRedirects: 5})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	auditor := NewRobotsTxtAuditor(client, nil)
	ctx := context.Background()

	tests := []struct {
		path  string
		agent string
		want  bool
	}{
		{"/biz/ez-smokez", "GoodBot", true},
		{"/search?find_desc=ez", "GoodBot", false},
		{"/search/public", "GoodBot", true},
		{"/biz/ez-smokez", "BadBot", false},
	}
	for _, tc := range tests {
		got, err := auditor.IsAllowed(ctx, ts.URL+tc.path, tc.agent)
		if err != nil {
			t.Fatalf("IsAllowed(%s): %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("IsAllowed(%s, %s) = %v, want %v", tc.path, tc.agent, got, tc.want)
		}
	}
}

func TestRobotsTxtAuditor_MissingRobots(t *testing.T) {
	ts := robotsServer(t, http.StatusNotFound, "")

	client, _ := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, MaxRedirects: 5})
	auditor := NewRobotsTxtAuditor(client, nil)

	allowed, err := auditor.IsAllowed(context.Background(), ts.URL+"/anything", "Bot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("expected missing robots.txt to default to allowed")
	}
}

func TestHTTPSession_RespectRobots(t *testing.T) {
	ts := robotsServer(t, http.StatusOK, testRobots)

	s := newTestSession(t, HTTPConfig{RespectRobots: true})
	ctx := context.Background()

	if _, err := s.Fetch(ctx, ts.URL+"/biz/ez-smokez"); err != nil {
		t.Fatalf("allowed page: %v", err)
	}
	if _, err := s.Fetch(ctx, ts.URL+"/search?find_desc=ez"); !errors.Is(err, ErrDisallowed) {
		t.Errorf("expected ErrDisallowed, got %v", err)
	}
}
