package service

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/config"
	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
	"github.com/mikewong23571/codex/internal/pkg/httpclient"
	"github.com/mikewong23571/codex/internal/pkg/logger"
)

const streamCopyBufferSize = 32 << 10

// ForwardResult reports what the upstream answered, for the request log.
type ForwardResult struct {
	UpstreamStatus int
	BytesWritten   int64
}

// Forwarder streams a client request to the upstream and the response back,
// flushing chunk by chunk and never buffering a full body.
type Forwarder struct {
	cfg           *config.Store
	tokenProvider *TokenProvider
}

func NewForwarder(cfg *config.Store, tokenProvider *TokenProvider) *Forwarder {
	return &Forwarder{cfg: cfg, tokenProvider: tokenProvider}
}

// Forward proxies one request using the given account's material. The
// request context carries cancellation: when the client goes away the
// upstream request is torn down with it. Errors are only returned before
// any response byte has been written; after that the stream is closed and
// the error is logged.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, accountID string, material *AuthMaterial) (*ForwardResult, error) {
	gw := f.cfg.Current().Gateway

	upstreamURL := strings.TrimRight(strings.TrimSpace(gw.UpstreamBaseURL), "/") + r.URL.RequestURI()

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, r.Body)
	if err != nil {
		return nil, infraerrors.Wrap(infraerrors.KindUpstreamConnect, err, "building upstream request")
	}
	upstreamReq.Header = ForwardRequestHeaders(r.Header, material)
	upstreamReq.ContentLength = r.ContentLength

	client := httpclient.GetClient(httpclient.Options{
		ResponseHeaderTimeout: gw.UpstreamHeaderTimeout(),
	})

	resp, err := client.Do(upstreamReq)
	if err != nil {
		return nil, classifyUpstreamError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream rejected our credentials: forward verbatim, evict the cached
	// material once so the next request refreshes. Never retried here.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		f.tokenProvider.Evict(ctx, accountID)
	}

	header := w.Header()
	for name, values := range ForwardResponseHeaders(resp.Header) {
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	written := f.streamBody(ctx, w, resp.Body, gw.UpstreamIdleTimeout())
	return &ForwardResult{UpstreamStatus: resp.StatusCode, BytesWritten: written}, nil
}

// streamBody relays the upstream body, flushing after every chunk. When an
// idle timeout is configured, a timer closes the upstream body if no bytes
// arrive within it; SSE keepalives reset the timer, so long streams survive.
func (f *Forwarder) streamBody(ctx context.Context, w http.ResponseWriter, body io.ReadCloser, idleTimeout time.Duration) int64 {
	flusher, _ := w.(http.Flusher)

	var timedOut atomic.Bool
	var idleTimer *time.Timer
	if idleTimeout > 0 {
		idleTimer = time.AfterFunc(idleTimeout, func() {
			timedOut.Store(true)
			_ = body.Close()
		})
		defer idleTimer.Stop()
	}

	var written int64
	buf := make([]byte, streamCopyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if idleTimer != nil {
			idleTimer.Reset(idleTimeout)
		}
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if flusher != nil {
				flusher.Flush()
			}
			if writeErr != nil {
				// Client went away; the request context tears down the
				// upstream connection.
				logger.FromContext(ctx).Debug("client write failed mid-stream", zap.Error(writeErr))
				return written
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				switch {
				case timedOut.Load():
					logger.FromContext(ctx).Warn("upstream body idle timeout, stream closed")
				case ctx.Err() != nil:
					logger.FromContext(ctx).Debug("client canceled mid-stream")
				default:
					logger.FromContext(ctx).Warn("upstream read failed mid-stream", zap.Error(readErr))
				}
			}
			return written
		}
	}
}

func classifyUpstreamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return infraerrors.Wrap(infraerrors.KindUpstreamConnect, ctx.Err(), "client canceled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return infraerrors.Wrap(infraerrors.KindUpstreamTimeout, err, "upstream timed out")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return infraerrors.Wrap(infraerrors.KindUpstreamTimeout, err, "upstream timed out")
	}
	return infraerrors.Wrap(infraerrors.KindUpstreamConnect, err, "upstream request failed")
}
