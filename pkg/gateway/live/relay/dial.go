package relay

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// Dialer opens the upstream leg. The default wraps the gorilla dialer; tests
// substitute fakes.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error)
}

type gorillaDialer struct {
	d *websocket.Dialer
}

// NewDialer returns the production websocket dialer.
func NewDialer() Dialer {
	return gorillaDialer{d: websocket.DefaultDialer}
}

func (g gorillaDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error) {
	d := g.d
	if d == nil {
		d = &websocket.Dialer{}
	}
	conn, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// dial opens and classifies the upstream connection attempt. The returned
// reason is a coarse client-visible code, meaningful only on error. Each
// attempt renders the target URL afresh, so request ids are never reused.
func (s *Session) dial() (Conn, string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	header := make(http.Header)
	if s.apiKey != "" {
		header.Set("api-key", s.apiKey)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.target.URL(), header)
	if err != nil {
		return nil, classifyDialError(err, resp), err
	}
	return conn, "", nil
}

func classifyDialError(err error, resp *http.Response) string {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return ReasonAuthFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonConnectTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonNormalEnd
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonConnectTimeout
	}
	return ReasonTransportDrop
}
