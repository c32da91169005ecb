package httpd

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi"
)

func TestParseRequestWaitsForCompleteHeaders(t *testing.T) {
	req, consumed, err := parseRequest([]byte("GET / HTTP/1.1\r\nHost: x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req != nil || consumed != 0 {
		t.Fatalf("expected an incomplete parse, got req=%v consumed=%d", req, consumed)
	}
}

func TestParseRequestWaitsForBody(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nabc"
	req, consumed, err := parseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req != nil || consumed != 0 {
		t.Fatalf("expected an incomplete parse pending body, got req=%v consumed=%d", req, consumed)
	}
}

func TestParseRequestParsesMethodPathAndHeaders(t *testing.T) {
	raw := "GET /widgets/7?verbose=1 HTTP/1.1\r\nHost: example\r\nConnection: close\r\n\r\n"
	req, consumed, err := parseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req == nil {
		t.Fatal("expected a fully parsed request")
	}
	if consumed != len(raw) {
		t.Fatalf("consumed = %d, want %d", consumed, len(raw))
	}
	if req.Method != "GET" || req.URL.Path != "/widgets/7" {
		t.Fatalf("got method=%s path=%s", req.Method, req.URL.Path)
	}
	if req.URL.RawQuery != "verbose=1" {
		t.Fatalf("RawQuery = %q, want %q", req.URL.RawQuery, "verbose=1")
	}
	if !req.Close {
		t.Fatal("expected Close=true from Connection: close header")
	}
}

func TestRecorderRoundTripThroughChiRouter(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("widget-" + chi.URLParam(r, "id")))
	})

	req, _, err := parseRequest([]byte("GET /widgets/42 HTTP/1.1\r\nHost: x\r\n\r\n"))
	if err != nil || req == nil {
		t.Fatalf("parseRequest failed: req=%v err=%v", req, err)
	}

	rec := newRecorder()
	router.ServeHTTP(rec, req)

	if rec.statusCode != 200 {
		t.Fatalf("statusCode = %d, want 200", rec.statusCode)
	}
	if got := rec.body.String(); got != "widget-42" {
		t.Fatalf("body = %q, want %q", got, "widget-42")
	}
	if rec.header.Get("Content-Length") != "" {
		t.Fatal("expected Content-Length to be set lazily by writeTo, not by the router")
	}
}
