// Package httpclient implements the mutual-TLS HTTP client used to fetch
// step sources and directory listings from the step repository, and to
// write fetched files to local disk atomically.
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

// TLSMaterial locates the client certificate, key, and CA bundle used to
// authenticate to the step repository, resolved relative to the agent's
// configdir per the agent configuration file.
type TLSMaterial struct {
	ClientCertificate    string
	ClientCertificateKey string
	CACertificate        string
}

// Client fetches step sources and directory listings from a single base
// URL, authenticating with a client certificate. Its transport is held
// behind an atomic pointer so Reload can swap in freshly loaded TLS
// material (driven by WatchTLSMaterial) without racing an in-flight Fetch.
type Client struct {
	httpClient *http.Client
	transport  *reloadableTransport
	baseURL    string
}

// reloadableTransport is an http.RoundTripper whose underlying
// *http.Transport can be swapped atomically, so certificate rotation never
// requires serializing with concurrent requests.
type reloadableTransport struct {
	current atomic.Pointer[http.Transport]
}

func (t *reloadableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.current.Load().RoundTrip(req)
}

// New builds a Client. baseURL is the step repository's root; tlsMaterial
// is empty ({ "", "", "" }) to use the system trust store with no client
// certificate, which is permitted but discouraged.
func New(baseURL string, tlsMaterial TLSMaterial, timeout time.Duration) (*Client, error) {
	tlsConfig, err := buildTLSConfig(tlsMaterial)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &reloadableTransport{}
	transport.current.Store(&http.Transport{TLSClientConfig: tlsConfig})

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		transport: transport,
		baseURL:   baseURL,
	}, nil
}

// buildTLSConfig loads the client certificate/key and CA bundle named by
// tlsMaterial into a *tls.Config, shared by New and Reload.
func buildTLSConfig(tlsMaterial TLSMaterial) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsMaterial.ClientCertificate != "" || tlsMaterial.ClientCertificateKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsMaterial.ClientCertificate, tlsMaterial.ClientCertificateKey)
		if err != nil {
			return nil, rolloutstatus.NewConfigError("load client certificate", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if tlsMaterial.CACertificate != "" {
		pem, err := os.ReadFile(tlsMaterial.CACertificate)
		if err != nil {
			return nil, rolloutstatus.NewConfigError("read CA certificate", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, rolloutstatus.NewConfigError("parse CA certificate", fmt.Errorf("%s contains no usable certificates", tlsMaterial.CACertificate))
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Reload rebuilds the client's TLS configuration from tlsMaterial and
// swaps it into the live transport, for use as WatchTLSMaterial's reload
// callback when the certificate, key, or CA bundle rotates on disk.
func (c *Client) Reload(tlsMaterial TLSMaterial) error {
	tlsConfig, err := buildTLSConfig(tlsMaterial)
	if err != nil {
		return err
	}
	old := c.transport.current.Load()
	next := &http.Transport{TLSClientConfig: tlsConfig}
	c.transport.current.Store(next)
	old.CloseIdleConnections()
	return nil
}

// Fetch retrieves path relative to the client's base URL (or, when path
// is already an absolute http/https URL, fetches it as given) and returns
// its body. Callers needing to persist it to disk should use FetchToFile
// instead, which writes atomically.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, rolloutstatus.NewHTTPError("build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, rolloutstatus.NewHTTPError("fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rolloutstatus.NewHTTPError("fetch "+url, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rolloutstatus.NewHTTPError("read body of "+url, err)
	}
	return body, nil
}

// FetchToFile fetches path and writes it to destPath atomically: the body
// is written to <destPath>.<pid>, fsynced, then renamed into place, so a
// reader can never observe a partially written file. An
// empty, successfully fetched body never overwrites a previously
// non-empty destination (the server serving a transient empty response
// must not destroy a good cached copy).
func (c *Client) FetchToFile(ctx context.Context, path, destPath string) error {
	body, err := c.Fetch(ctx, path)
	if err != nil {
		return err
	}

	if len(body) == 0 {
		if info, statErr := os.Stat(destPath); statErr == nil && info.Size() > 0 {
			return rolloutstatus.NewHTTPError("fetch "+path, fmt.Errorf("server returned an empty body, refusing to overwrite non-empty %s", destPath))
		}
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rolloutstatus.NewLocalFileError("create directory "+dir, err)
	}

	tmpPath := fmt.Sprintf("%s.%d", destPath, os.Getpid())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return rolloutstatus.NewLocalFileError("create temp file "+tmpPath, err)
	}
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return rolloutstatus.NewLocalFileError("write "+tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return rolloutstatus.NewLocalFileError("sync "+tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return rolloutstatus.NewLocalFileError("close "+tmpPath, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return rolloutstatus.NewLocalFileError("rename into "+destPath, err)
	}
	return nil
}
