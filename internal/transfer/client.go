package transfer

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"fetchledger/internal/logging"
)

// ClientOptions configures NewClient.
type ClientOptions struct {
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// NewClient builds an HTTP client for long-running transfers. There is no
// whole-request timeout; stalls are detected per transfer.
func NewClient(opts ClientOptions) *http.Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: connect,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &http.Client{Transport: &loggingTransport{base: transport, logger: logger}}
}

type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Debug("http request",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.String("range", req.Header.Get("Range")),
	)
	return t.base.RoundTrip(req)
}
