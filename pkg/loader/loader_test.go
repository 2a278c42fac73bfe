package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rolloutd/rolloutd/pkg/httpclient"
)

func newTestLoader(t *testing.T, handler http.HandlerFunc) (*Loader, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client, err := httpclient.New(server.URL, httpclient.TLSMaterial{}, time.Second)
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	return New(client, t.TempDir()), server.Close
}

func TestStep_FetchesOnMiss(t *testing.T) {
	var requests int
	loader, closeFn := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("step source"))
	})
	defer closeFn()

	body, err := loader.Step(context.Background(), "100-users")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if string(body) != "step source" {
		t.Errorf("Step body = %q, want %q", body, "step source")
	}

	if _, err := loader.Step(context.Background(), "100-users"); err != nil {
		t.Fatalf("Step (cached): %v", err)
	}
	if requests != 1 {
		t.Errorf("handler invoked %d times, want 1 (second call should hit the in-memory cache)", requests)
	}
}

func TestRemoteRequire_OptionalMissingReturnsFalse(t *testing.T) {
	loader, closeFn := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeFn()

	_, ok, err := loader.RemoteRequire(context.Background(), "optional_lib", true)
	if err != nil {
		t.Fatalf("RemoteRequire: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing optional module")
	}
}

func TestRemoteRequire_MandatoryMissingIsError(t *testing.T) {
	loader, closeFn := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeFn()

	if _, _, err := loader.RemoteRequire(context.Background(), "required_lib", false); err == nil {
		t.Error("expected an error for a missing mandatory module")
	}
}

func TestRemoteRequire_LoadedOnceThenCached(t *testing.T) {
	var requests int
	loader, closeFn := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("module source"))
	})
	defer closeFn()

	if _, ok, err := loader.RemoteRequire(context.Background(), "shared", false); err != nil || !ok {
		t.Fatalf("RemoteRequire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := loader.RemoteRequire(context.Background(), "shared", false); err != nil || !ok {
		t.Fatalf("RemoteRequire (second): ok=%v err=%v", ok, err)
	}
	if requests != 1 {
		t.Errorf("handler invoked %d times, want 1", requests)
	}
}
