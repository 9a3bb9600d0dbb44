package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fetchledger/internal/faults"
	"fetchledger/internal/fileutil"
	"fetchledger/internal/logging"
)

const defaultBufferSize = 32 * 1024

// Options tunes a single transfer.
type Options struct {
	// ExpectedSize is the catalog size; values <= 0 mean unknown.
	ExpectedSize int64
	// StallTimeout is the longest gap between received bytes. Zero disables it.
	StallTimeout time.Duration
	BufferSize   int
	UserAgent    string
	Logger       *slog.Logger
}

// Transfer downloads one URL into one destination file.
type Transfer struct {
	client *http.Client
	url    string
	dest   string
	opts   Options
	state  *State
	logger *slog.Logger
}

// New prepares a transfer. Nothing is fetched until Run.
func New(client *http.Client, url, dest string, opts Options) *Transfer {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Transfer{
		client: client,
		url:    url,
		dest:   dest,
		opts:   opts,
		state:  newState(),
		logger: logger.With(logging.String("url", url)),
	}
}

// State exposes live counters for progress reporting.
func (t *Transfer) State() *State { return t.state }

// URL returns the source URL.
func (t *Transfer) URL() string { return t.url }

// Cancel asks Run to stop after the buffer it is currently writing.
func (t *Transfer) Cancel() { t.state.cancelled.Store(true) }

// Run fetches the remaining bytes of the destination file.
func (t *Transfer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	t.state.started.Store(now.UnixNano())
	t.state.touch(now)

	if t.state.Cancelled() {
		return ErrHalted
	}

	if err := os.MkdirAll(filepath.Dir(t.dest), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	offset, err := fileutil.Size(t.dest)
	if err != nil {
		return fmt.Errorf("inspect destination: %w", err)
	}
	if t.opts.ExpectedSize > 0 && offset > t.opts.ExpectedSize {
		t.logger.Info("local file larger than expected, restarting",
			logging.Int64(logging.FieldOffset, offset),
			logging.Int64("expected", t.opts.ExpectedSize),
		)
		if err := os.Truncate(t.dest, 0); err != nil {
			return fmt.Errorf("truncate destination: %w", err)
		}
		offset = 0
	}
	t.state.resumedFrom.Store(offset)
	t.state.bytes.Store(offset)

	file, err := os.OpenFile(t.dest, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer file.Close()

	wctx, wd := newWatchdog(ctx, t.opts.StallTimeout)
	defer wd.Stop()

	req, err := http.NewRequestWithContext(wctx, http.MethodGet, t.url, nil)
	if err != nil {
		return faults.Wrap(faults.ErrNetwork, "transfer", "build request", t.url, err)
	}
	if t.opts.UserAgent != "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return t.classify(ctx, wctx, "request", err)
	}
	defer resp.Body.Close()

	total := int64(-1)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, declared, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok {
			return faults.Wrap(faults.ErrNetwork, "transfer", "resume", "malformed Content-Range "+strconv.Quote(resp.Header.Get("Content-Range")), nil)
		}
		if start != offset {
			return faults.Wrap(faults.ErrNetwork, "transfer", "resume",
				fmt.Sprintf("server resumed at byte %d, requested %d", start, offset), nil)
		}
		total = declared
	case http.StatusOK:
		if offset > 0 {
			t.logger.Debug("server ignored range request, restarting", logging.Int64(logging.FieldOffset, offset))
			if err := file.Truncate(0); err != nil {
				return fmt.Errorf("truncate destination: %w", err)
			}
			offset = 0
			t.state.resumedFrom.Store(0)
			t.state.bytes.Store(0)
		}
		total = resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		if declared, ok := parseUnsatisfiedRange(resp.Header.Get("Content-Range")); ok && offset > 0 && declared == offset {
			t.state.total.Store(declared)
			return t.checkExpected(offset)
		} else if ok && declared < offset {
			// Local bytes past the remote end are stale; start over from zero.
			t.logger.Info("local file larger than remote, restarting",
				logging.Int64(logging.FieldOffset, offset),
				logging.Int64("remote_size", declared),
			)
			if err := file.Truncate(0); err != nil {
				return fmt.Errorf("truncate destination: %w", err)
			}
			resp.Body.Close()
			file.Close()
			wd.Stop()
			return t.Run(ctx)
		}
		return &StatusError{URL: t.url, Code: resp.StatusCode}
	default:
		return &StatusError{URL: t.url, Code: resp.StatusCode}
	}

	if total >= 0 {
		t.state.total.Store(total)
		if t.opts.ExpectedSize > 0 && total != t.opts.ExpectedSize {
			return &SizeMismatchError{URL: t.url, Expected: t.opts.ExpectedSize, Actual: total}
		}
	}

	phase := "download"
	if offset > 0 {
		phase = "resume"
	}
	sampler := logging.NewProgressSampler(25)
	buf := make([]byte, t.opts.BufferSize)
	for {
		if t.state.Cancelled() {
			return ErrHalted
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.WriteAt(buf[:n], offset); err != nil {
				return fmt.Errorf("write destination at %d: %w", offset, err)
			}
			offset += int64(n)
			t.state.bytes.Store(offset)
			t.state.touch(time.Now())
			wd.Kick()
			if total > 0 {
				percent := float64(offset) * 100 / float64(total)
				if sampler.ShouldLog(percent, phase) {
					t.logger.Debug("transfer progress",
						logging.String("phase", phase),
						logging.Float64("percent", percent),
						logging.Int64(logging.FieldOffset, offset),
						logging.Int64("total", total),
					)
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return t.classify(ctx, wctx, "read body", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}
	if total >= 0 && offset != total {
		return &SizeMismatchError{URL: t.url, Expected: total, Actual: offset}
	}
	return t.checkExpected(offset)
}

func (t *Transfer) checkExpected(size int64) error {
	if t.opts.ExpectedSize > 0 && size != t.opts.ExpectedSize {
		return &SizeMismatchError{URL: t.url, Expected: t.opts.ExpectedSize, Actual: size}
	}
	return nil
}

// classify maps a request or read error to a halt, a stall, or a network failure.
func (t *Transfer) classify(parent, wctx context.Context, op string, err error) error {
	switch {
	case parent.Err() != nil:
		return ErrHalted
	case errors.Is(context.Cause(wctx), os.ErrDeadlineExceeded):
		return ErrStalled
	case t.state.Cancelled():
		return ErrHalted
	default:
		return faults.Wrap(faults.ErrNetwork, "transfer", op, t.url, err)
	}
}

// parseContentRange parses "bytes start-end/total". A "*" total yields -1.
func parseContentRange(value string) (start, total int64, ok bool) {
	value = strings.TrimSpace(value)
	rest, found := strings.CutPrefix(value, "bytes ")
	if !found {
		return 0, 0, false
	}
	span, size, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	size = strings.TrimSpace(size)
	if size == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}

// parseUnsatisfiedRange parses the "bytes */total" form sent with 416.
func parseUnsatisfiedRange(value string) (int64, bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(value), "bytes */")
	if !found {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}
