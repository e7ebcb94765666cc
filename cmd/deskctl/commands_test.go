package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recorded struct {
	method string
	path   string
	query  string
}

func fakeDaemon(t *testing.T, routes map[string]string) (string, func() []recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, recorded{r.Method, r.URL.Path, r.URL.RawQuery})
		mu.Unlock()
		body, ok := routes[r.Method+" "+r.URL.Path]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"unknown_collection","error":"Not Found","message":"unknown collection: \"tickets\""}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func runCmd(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"--addr", addr}, args...), &out)
	return out.String(), err
}

func TestStatusTable(t *testing.T) {
	addr, _ := fakeDaemon(t, map[string]string{
		"GET /api/status": `{"status":"ok","collections":[
			{"name":"contacts","state":"IDLE","count":12,"refreshed":true,"last_refreshed_at":"2026-01-02T03:04:05Z"},
			{"name":"companies","state":"IDLE","count":0,"refreshed":false,"last_refreshed_at":null,"last_error":"companies: fatal (HTTP 400)"}
		]}`,
	})

	out, err := runCmd(t, addr, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"Status: ok", "CONTACTS", "12", "never", "HTTP 400"} {
		if !strings.Contains(strings.ToUpper(out), strings.ToUpper(want)) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRefreshCollectionFailureExitsNonZero(t *testing.T) {
	addr, calls := fakeDaemon(t, map[string]string{
		"POST /api/refresh/companies": `{"ok":false,"result":{"run_id":"r1","collections":[
			{"collection":"companies","committed":false,"count":0,"pages":1,"dropped":0,"duration":1000000,"error":"boom"}
		]}}`,
	})

	out, err := runCmd(t, addr, "refresh", "companies")
	if err == nil {
		t.Fatal("refresh with failed collection returned nil error")
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("output missing outcome:\n%s", out)
	}
	if got := calls()[0]; got.method != http.MethodPost || got.path != "/api/refresh/companies" {
		t.Errorf("call = %+v", got)
	}
}

func TestRefreshNoWait(t *testing.T) {
	addr, calls := fakeDaemon(t, map[string]string{
		"POST /api/refresh": `{"status":"accepted","scope":"all"}`,
	})
	if _, err := runCmd(t, addr, "refresh", "--no-wait"); err != nil {
		t.Fatalf("refresh --no-wait error = %v", err)
	}
	if got := calls()[0].query; got != "wait=false" {
		t.Errorf("query = %q, want wait=false", got)
	}
}

func TestDaemonErrorSurfaces(t *testing.T) {
	addr, _ := fakeDaemon(t, nil)
	_, err := runCmd(t, addr, "refresh", "tickets")
	if err == nil || !strings.Contains(err.Error(), "unknown_collection") {
		t.Errorf("error = %v, want unknown_collection", err)
	}
}

func TestSearchQuery(t *testing.T) {
	addr, calls := fakeDaemon(t, map[string]string{
		"GET /api/contacts/search": `{"contacts":[{"id":"c1","name":"Ann","email":"ann@example.com","role":"user"}],"count":1,"live":false,"cached":true}`,
	})
	out, err := runCmd(t, addr, "search", "--email", "ann@example.com", "--limit", "5")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if !strings.Contains(out, "ann@example.com") {
		t.Errorf("output missing contact:\n%s", out)
	}
	q := calls()[0].query
	if !strings.Contains(q, "email=ann%40example.com") || !strings.Contains(q, "limit=5") {
		t.Errorf("query = %q", q)
	}
}

func TestProxyPassesParams(t *testing.T) {
	addr, calls := fakeDaemon(t, map[string]string{
		"GET /api/proxy": `{"type":"tag.list","data":[]}`,
	})
	out, err := runCmd(t, addr, "proxy", "/tags", "per_page=5")
	if err != nil {
		t.Fatalf("proxy error = %v", err)
	}
	if out != `{"type":"tag.list","data":[]}` {
		t.Errorf("output = %q", out)
	}
	q := calls()[0].query
	if !strings.Contains(q, "path=%2Ftags") || !strings.Contains(q, "per_page=5") {
		t.Errorf("query = %q", q)
	}

	if _, err := runCmd(t, addr, "proxy", "/tags", "oops"); err == nil {
		t.Error("malformed parameter accepted")
	}
}

func TestJSONOutput(t *testing.T) {
	addr, _ := fakeDaemon(t, map[string]string{
		"GET /api/refresh/history": `{"runs":[{"id":1,"run_id":"r1","kind":"refresh","collection":"contacts","ok":true,"count":3,"started_at":"2026-01-02T03:04:05Z","finished_at":"2026-01-02T03:04:06Z"}]}`,
	})
	out, err := runCmd(t, addr, "--json", "history", "--collection", "contacts")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, `"run_id": "r1"`) {
		t.Errorf("json output = %s", out)
	}
}
