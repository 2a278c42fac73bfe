package httpclient

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchTLSMaterial watches the client certificate, key, and CA bundle for
// changes (rotation by an external process) and invokes reload whenever
// any of them is written or renamed into place. It blocks until ctx is
// canceled.
func WatchTLSMaterial(ctx context.Context, logger zerolog.Logger, tlsMaterial TLSMaterial, reload func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range []string{tlsMaterial.ClientCertificate, tlsMaterial.ClientCertificateKey, tlsMaterial.CACertificate} {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("cannot watch TLS material for rotation")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Info().Str("path", event.Name).Msg("TLS material changed, reloading")
			if err := reload(); err != nil {
				logger.Error().Err(err).Msg("failed to reload TLS material")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("TLS material watcher error")
		}
	}
}
