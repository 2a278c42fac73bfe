package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := &Client{httpClient: server.Client(), baseURL: server.URL}
	return client, server.Close
}

func TestFetch_OKBody(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("step source"))
	})
	defer closeFn()

	body, err := client.Fetch(context.Background(), "/steps/100-users")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "step source" {
		t.Errorf("Fetch body = %q, want %q", body, "step source")
	}
}

func TestFetch_NonOKStatusIsError(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeFn()

	if _, err := client.Fetch(context.Background(), "/missing"); err == nil {
		t.Error("expected an error for a 404 response")
	}
}

func TestFetchToFile_WritesAtomically(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("step contents"))
	})
	defer closeFn()

	dest := filepath.Join(t.TempDir(), "subdir", "100-users")
	if err := client.FetchToFile(context.Background(), "/steps/100-users", dest); err != nil {
		t.Fatalf("FetchToFile: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "step contents" {
		t.Errorf("written file = %q, want %q", got, "step contents")
	}
}

func TestFetchToFile_EmptyBodyDoesNotOverwrite(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Deliberately write nothing.
	})
	defer closeFn()

	dest := filepath.Join(t.TempDir(), "100-users")
	if err := os.WriteFile(dest, []byte("existing good copy"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	err := client.FetchToFile(context.Background(), "/steps/100-users", dest)
	if err == nil {
		t.Fatal("expected an error when the server returns an empty body over a non-empty destination")
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "existing good copy" {
		t.Errorf("destination was overwritten: %q", got)
	}
}
