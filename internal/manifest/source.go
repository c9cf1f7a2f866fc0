package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "updateinfo-fetcher"

	// maxManifestBytes caps how much of a response body is read.
	maxManifestBytes = 16 << 20
)

// Error variables for specific error conditions.
var (
	ErrNetworkFailure = fmt.Errorf("network request failed")
	ErrRateLimited    = fmt.Errorf("rate limited by update server")
	ErrNotFound       = fmt.Errorf("manifest not found")
	ErrTooLarge       = fmt.Errorf("manifest exceeds size limit")
)

// Source returns the raw manifest bytes.
type Source interface {
	FetchManifest(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches the manifest from a URL.
type HTTPSource struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets a custom HTTP client for the source.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if timeout > 0 {
			s.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(s *HTTPSource) {
		if strings.TrimSpace(ua) != "" {
			s.userAgent = ua
		}
	}
}

// NewHTTPSource creates a source for the manifest published at url.
func NewHTTPSource(url string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:       url,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchManifest performs a single GET request.
func (s *HTTPSource) FetchManifest(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.url)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode)
	}

	return readLimited(resp.Body)
}

// String identifies the source in logs.
func (s *HTTPSource) String() string {
	return s.url
}

// FileSource reads the manifest from a local path, for air-gapped installs.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// FetchManifest reads the whole file.
func (s *FileSource) FetchManifest(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	//nolint:gosec // G304: Path comes from user configuration
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readLimited(f)
}

// String identifies the source in logs.
func (s *FileSource) String() string {
	return "file://" + s.path
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) > maxManifestBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Location names where the manifest lives. At most one field is used:
// Database wins over File, which wins over URL.
type Location struct {
	URL      string
	File     string
	Database string
}

// Resolve builds the Source for loc.
func Resolve(loc Location, opts ...HTTPOption) (Source, error) {
	switch {
	case strings.TrimSpace(loc.Database) != "":
		return NewSQLiteSource(loc.Database), nil
	case strings.TrimSpace(loc.File) != "":
		return NewFileSource(strings.TrimSpace(loc.File)), nil
	case strings.TrimSpace(loc.URL) != "":
		return NewHTTPSource(strings.TrimSpace(loc.URL), opts...), nil
	default:
		return nil, fmt.Errorf("no manifest location configured")
	}
}
