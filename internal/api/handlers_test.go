package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sathwik-git/linux-playground/internal/auth"
	"github.com/Sathwik-git/linux-playground/internal/config"
	"github.com/Sathwik-git/linux-playground/internal/provider"
	"github.com/Sathwik-git/linux-playground/internal/provision"
	"github.com/Sathwik-git/linux-playground/internal/proxy"
	"github.com/Sathwik-git/linux-playground/internal/ratelimit"
	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/internal/terminate"
	"github.com/Sathwik-git/linux-playground/pkg/models"
)

const testToken = "test-token"

func newTestServer(t *testing.T, fake *provider.Fake) *httptest.Server {
	t.Helper()

	cfg := &config.Settings{
		InstanceImage:       "tsl0922/ttyd:latest",
		TerminalPort:        "7681",
		AdvertiseHost:       "127.0.0.1",
		LeaseDuration:       time.Hour,
		ProvisionTimeout:    time.Second,
		PollInterval:        time.Millisecond,
		MaxSessionsPerOwner: 10,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(cfg.MaxSessionsPerOwner)
	provisioner := provision.New(cfg, fake, reg, logger)
	coordinator := terminate.New(fake, reg, logger)
	proxyServer := proxy.NewServer(reg, logger)

	verifier, err := auth.NewSharedTokenVerifier(testToken)
	if err != nil {
		t.Fatal(err)
	}

	handler := NewHandler(provisioner, coordinator, reg, logger)
	router := handler.SetupRoutes(verifier, proxyServer, ratelimit.New(100000, 1000), 100000)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return envelope.Error.Code
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t, provider.NewFake("10.0.0.5:7681"))

	for _, tc := range []struct{ method, path string }{
		{"POST", "/v1/sessions"},
		{"GET", "/v1/sessions"},
		{"DELETE", "/v1/sessions"},
	} {
		resp := doRequest(t, tc.method, srv.URL+tc.path, nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestCreateSession(t *testing.T) {
	fake := provider.NewFake("10.0.0.5:7681")
	fake.RunningAfterPolls = 3
	srv := newTestServer(t, fake)

	resp := doRequest(t, "POST", srv.URL+"/v1/sessions", nil, testToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var view models.SessionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if view.Endpoint != "10.0.0.5:7681" {
		t.Fatalf("endpoint = %q", view.Endpoint)
	}
	if got := view.EndTime.Sub(view.StartTime); got != time.Hour {
		t.Fatalf("lease window = %s, want 1h", got)
	}
}

func TestCreateSessionProvisioningTimeout(t *testing.T) {
	fake := provider.NewFake("10.0.0.5:7681")
	fake.RunningAfterPolls = 1 << 30
	srv := newTestServer(t, fake)

	resp := doRequest(t, "POST", srv.URL+"/v1/sessions", nil, testToken)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "provisioning_timeout" {
		t.Fatalf("code = %q", code)
	}
}

func TestTerminateByEndpointFlow(t *testing.T) {
	fake := provider.NewFake("10.0.0.5:7681")
	srv := newTestServer(t, fake)

	resp := doRequest(t, "POST", srv.URL+"/v1/sessions", nil, testToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var view models.SessionView
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()

	resp = doRequest(t, "DELETE", srv.URL+"/v1/sessions",
		models.TerminateRequest{Endpoint: view.Endpoint}, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if fake.TerminateCalls != 1 {
		t.Fatalf("terminate calls = %d, want 1", fake.TerminateCalls)
	}

	// The repeat by endpoint succeeds idempotently.
	resp = doRequest(t, "DELETE", srv.URL+"/v1/sessions",
		models.TerminateRequest{Endpoint: view.Endpoint}, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat delete status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
	if fake.TerminateCalls != 1 {
		t.Fatalf("terminate calls after repeat = %d, want 1", fake.TerminateCalls)
	}
}

func TestTerminateById(t *testing.T) {
	fake := provider.NewFake("10.0.0.5:7681")
	srv := newTestServer(t, fake)

	resp := doRequest(t, "POST", srv.URL+"/v1/sessions", nil, testToken)
	var view models.SessionView
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()

	resp = doRequest(t, "DELETE", srv.URL+"/v1/sessions/"+view.SessionID, nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// By id the repeat succeeds idempotently, with no extra provider
	// call.
	resp = doRequest(t, "DELETE", srv.URL+"/v1/sessions/"+view.SessionID, nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat delete status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if fake.TerminateCalls != 1 {
		t.Fatalf("terminate calls = %d, want 1", fake.TerminateCalls)
	}
}

func TestGetSession(t *testing.T) {
	fake := provider.NewFake("10.0.0.5:7681")
	srv := newTestServer(t, fake)

	resp := doRequest(t, "GET", srv.URL+"/v1/sessions/nope", nil, testToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, "POST", srv.URL+"/v1/sessions", nil, testToken)
	var view models.SessionView
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()

	resp = doRequest(t, "GET", srv.URL+"/v1/sessions/"+view.SessionID, nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sess models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if sess.State != models.StateRunning {
		t.Fatalf("state = %s, want RUNNING", sess.State)
	}
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t, provider.NewFake("10.0.0.5:7681"))

	resp := doRequest(t, "GET", srv.URL+"/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}
