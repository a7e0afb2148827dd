package keyword

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/pkg/utils"
	"go.uber.org/zap"
)

// Select picks the lexical backend once at startup: nil when lexical search is
// disabled, OpenSearch when configured and its cluster health check succeeds,
// otherwise the in-process index.
func Select(ctx context.Context, cfg config.LexicalConfig, logger *zap.Logger) Index {
	logger = utils.OrNop(logger)
	if !cfg.EnabledOrDefault() {
		logger.Info("lexical search disabled")
		return nil
	}
	if cfg.OpenSearchURL == "" {
		return NewMemoryIndex()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	remote, err := NewOpenSearchIndex(OpenSearchOptions{
		URL:       cfg.OpenSearchURL,
		Username:  cfg.OpenSearchUser,
		Password:  cfg.OpenSearchPassword,
		Prefix:    cfg.IndexPrefix,
		Transport: transport,
	})
	if err != nil {
		logger.Warn("opensearch unavailable, using in-process lexical index", zap.Error(err))
		return NewMemoryIndex()
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := remote.Ping(pingCtx); err != nil {
		logger.Warn("opensearch ping failed, using in-process lexical index",
			zap.String("url", cfg.OpenSearchURL), zap.Error(err))
		return NewMemoryIndex()
	}
	logger.Info("using opensearch lexical index", zap.String("url", cfg.OpenSearchURL))
	return remote
}
