package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"stream-sentinel/internal/registry"
)

// DefaultTimeout bounds the upstream connect and response-header wait.
const DefaultTimeout = 10 * time.Second

// DefaultContentType is used when the origin omits a Content-Type header.
const DefaultContentType = "video/mp4"

// UpstreamError reports an origin that answered with a non-2xx status.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// Opened is an in-flight proxied origin response. The caller owns Body and
// must close it; cancelling the context passed to Open aborts the transfer.
type Opened struct {
	Body        io.ReadCloser
	ContentType string
}

// Service fetches a registered origin's media bytes on behalf of a viewer.
// One upstream fetch per Open call; nothing is cached or shared.
type Service struct {
	repo   *registry.Repository
	client *http.Client
}

// NewService returns a relay over repo. timeout bounds the upstream connect
// and header wait; zero means DefaultTimeout. The body read itself is
// unbounded (media transfers are long-lived) and is cancelled through the
// request context.
func NewService(repo *registry.Repository, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
	}
	return &Service{
		repo:   repo,
		client: &http.Client{Transport: transport},
	}
}

// Open looks up streamID and starts fetching its origin URL. Unknown ids
// yield registry.ErrNotFound; non-2xx origins yield *UpstreamError. The
// returned body streams the origin response and is aborted when ctx is
// cancelled (e.g. the viewer disconnected).
func (s *Service) Open(ctx context.Context, streamID registry.StreamID) (*Opened, error) {
	st, err := s.repo.Get(streamID)
	if err != nil {
		return nil, err
	}
	return s.openURL(ctx, st.URL)
}

func (s *Service) openURL(ctx context.Context, url string) (*Opened, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch origin: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Opened{Body: resp.Body, ContentType: contentType}, nil
}
