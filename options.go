package toolbox

import (
	"log/slog"
	"net/http"

	"github.com/toolbox-runner/toolbox/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	cfg        *config.Config
	backendURL string
	httpClient *http.Client
	store      ArchiveStore
	logger     *slog.Logger
	version    string
}

// WithConfig uses cfg instead of reading the environment.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = &cfg }
}

// WithBackendURL overrides the backend base URL (TOOLBOX_BACKEND_URL).
func WithBackendURL(url string) Option {
	return func(o *resolvedOptions) { o.backendURL = url }
}

// WithHTTPClient sets the HTTP client used for backend calls. The client is
// used as-is; TOOLBOX_HTTP_TIMEOUT is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithArchiveStore replaces the archive store chosen from configuration.
func WithArchiveStore(s ArchiveStore) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
