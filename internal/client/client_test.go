package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const nodeID = "1a2b3c4d-0000-4000-8000-000000000001"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://host:5050", "http://host:5050/v1"},
		{"http://host:5050/", "http://host:5050/v1"},
		{"http://host:5050/v1", "http://host:5050/v1"},
		{"http://host:5050/v1/", "http://host:5050/v1"},
	}
	for _, tt := range tests {
		if got := normalizeURL(tt.in); got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := normalizeURL(""); !strings.HasPrefix(got, "http://") || !strings.HasSuffix(got, ":5050/v1") {
		t.Errorf("normalizeURL(\"\") = %q, want http://<ip>:5050/v1", got)
	}
}

func TestHTTPClient_Introspect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/introspection/"+nodeID {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if token := r.Header.Get("X-Auth-Token"); token != "secret-token" {
			t.Errorf("expected X-Auth-Token 'secret-token', got %q", token)
		}
		q := r.URL.Query()
		if q.Get("new_ipmi_username") != "admin" || q.Get("new_ipmi_password") != "pw" {
			t.Errorf("unexpected query %v", q)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, WithAuthToken("secret-token"))
	err := c.Introspect(context.Background(), nodeID, IntrospectOptions{NewIPMIUsername: "admin", NewIPMIPassword: "pw"})
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}
}

func TestHTTPClient_IntrospectNoParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected no query, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("X-Auth-Token") != "" {
			t.Error("expected no X-Auth-Token header")
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	if err := NewHTTPClient(server.URL).Introspect(context.Background(), nodeID, IntrospectOptions{}); err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}
}

func TestHTTPClient_InvalidInput(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1")

	if err := c.Introspect(context.Background(), "not-a-uuid", IntrospectOptions{}); err == nil {
		t.Error("expected error for invalid UUID")
	}
	err := c.Introspect(context.Background(), nodeID, IntrospectOptions{NewIPMIUsername: "admin"})
	if err == nil || !strings.Contains(err.Error(), "requires a new password") {
		t.Errorf("expected password error, got %v", err)
	}
	if _, err := c.GetStatus(context.Background(), "x"); err == nil {
		t.Error("expected error for invalid UUID")
	}
	if err := c.Discover(context.Background(), []string{nodeID, "x"}); err == nil {
		t.Error("expected error for invalid UUID in list")
	}
}

func TestHTTPClient_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "cannot find node "+nodeID)
	}))
	defer server.Close()

	err := NewHTTPClient(server.URL).Introspect(context.Background(), nodeID, IntrospectOptions{})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if cerr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", cerr.StatusCode)
	}
	if cerr.Error() != "cannot find node "+nodeID {
		t.Errorf("expected body as message, got %q", cerr.Error())
	}
}

func TestHTTPClient_GetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"finished": true, "error": "boom"}`)
	}))
	defer server.Close()

	st, err := NewHTTPClient(server.URL+"/v1").GetStatus(context.Background(), nodeID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if !st.Finished || st.Error == nil || *st.Error != "boom" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHTTPClient_Discover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/discover" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		var uuids []string
		if err := json.NewDecoder(r.Body).Decode(&uuids); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(uuids) != 1 || uuids[0] != nodeID {
			t.Errorf("unexpected body %v", uuids)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	if err := NewHTTPClient(server.URL).Discover(context.Background(), []string{nodeID}); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
}

func TestHTTPClient_Continue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/continue" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["cpus"] != float64(2) {
			t.Errorf("unexpected body %v", body)
		}
		io.WriteString(w, `{"ipmi_setup_credentials": true, "ipmi_username": "admin", "ipmi_password": "pw"}`)
	}))
	defer server.Close()

	res, err := NewHTTPClient(server.URL).Continue(context.Background(), map[string]int{"cpus": 2})
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if !res.IPMISetupCredentials || res.IPMIUsername != "admin" || res.IPMIPassword != "pw" {
		t.Errorf("unexpected result %+v", res)
	}
}
