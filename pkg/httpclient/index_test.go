package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

func TestIndex_NativeFormat(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Rolloutd File Listing</title></head><body>
<table>
<tr><th>Name</th><th>Size</th><th>Modified</th></tr>
<tr><td><a href="100-users">100-users</a></td><td>512</td><td>2026-01-01</td></tr>
<tr><td><a href="subdir/">subdir/</a></td><td>-</td><td>2026-01-02</td></tr>
</table>
</body></html>`))
	})
	defer closeFn()

	entries, err := client.Index(context.Background(), "/steps/")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Index returned %d entries, want 2: %+v", len(entries), entries)
	}

	if entries[0].Name != "100-users" || entries[0].IsDir {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[0].Extra["Size"] != "512" {
		t.Errorf("entries[0].Extra[Size] = %q, want %q", entries[0].Extra["Size"], "512")
	}
	if entries[1].Name != "subdir" || !entries[1].IsDir {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestIndex_ApacheFormat(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Index of /steps</h1>
<img src="/icons/back.gif"> <a href="../">Parent Directory</a><br>
<img src="/icons/text.gif"> <a href="100-users">100-users</a> 2026-01-01 12:00 512<br>
<img src="/icons/folder.gif"> <a href="subdir/">subdir/</a> 2026-01-02 12:00 -<br>
</body></html>`))
	})
	defer closeFn()

	entries, err := client.Index(context.Background(), "/steps/")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Index returned %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Name != "100-users" || entries[0].IsDir {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "subdir" || !entries[1].IsDir {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestIndex_NginxFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>Index of /steps/</title></head>
<body>
<a href="../">../</a>
<a href="100-users">100-users</a>              01-Jan-2026 12:00     512
<a href="subdir/">subdir/</a>                  02-Jan-2026 12:00       -
</body>
</html>`))
	}))
	defer server.Close()

	client := &Client{httpClient: server.Client(), baseURL: server.URL}
	entries, err := client.Index(context.Background(), "/steps/")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Index returned %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Name != "100-users" || entries[0].IsDir {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "subdir" || !entries[1].IsDir {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

// TestIndex_UnrecognizedFormatIsConfigError covers a server response that
// matches none of the three supported listing formats: Index must fail
// with a ConfigError rather than silently falling through to the Nginx
// parser and returning zero entries.
func TestIndex_UnrecognizedFormatIsConfigError(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "this is a JSON API response, not a directory listing"}`))
	})
	defer closeFn()

	entries, err := client.Index(context.Background(), "/steps/")
	if err == nil {
		t.Fatalf("Index: expected a ConfigError, got entries %+v", entries)
	}
	if rolloutstatus.KindOf(err) != rolloutstatus.KindConfig {
		t.Errorf("Index error = %v, want a ConfigError", err)
	}
}
