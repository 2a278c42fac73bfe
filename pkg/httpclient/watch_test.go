package httpclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReload_SwapsTransportWithoutError(t *testing.T) {
	client, err := New("https://example.invalid", TLSMaterial{}, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := client.transport.current.Load()
	if err := client.Reload(TLSMaterial{}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	after := client.transport.current.Load()

	if before == after {
		t.Error("Reload did not swap in a new transport")
	}
}

func TestReload_InvalidCertificateReturnsConfigError(t *testing.T) {
	client, err := New("https://example.invalid", TLSMaterial{}, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = client.Reload(TLSMaterial{ClientCertificate: "/does/not/exist", ClientCertificateKey: "/does/not/exist"})
	if err == nil {
		t.Fatal("expected Reload with a missing certificate to fail")
	}
}

func TestWatchTLSMaterial_WriteTriggersReload(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caPath, []byte("initial"), 0o644); err != nil {
		t.Fatalf("seed ca file: %v", err)
	}

	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- WatchTLSMaterial(ctx, zerolog.Nop(), TLSMaterial{CACertificate: caPath}, func() error {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Give the watcher a moment to register the fsnotify watch before the
	// write, then rewrite the file to simulate external rotation.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(caPath, []byte("rotated"), 0o644); err != nil {
		t.Fatalf("rewrite ca file: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback was not invoked after the watched file changed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchTLSMaterial returned %v after context cancellation, want nil", err)
	}
}
