package testsupport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// ArtifactServer serves named byte payloads with Range support and lets tests
// inject failures per path.
type ArtifactServer struct {
	*httptest.Server

	mu          sync.Mutex
	files       map[string][]byte
	failures    map[string]int
	cutAfter    map[string]int
	stalls      map[string]bool
	corrupt     map[string]bool
	ignoreRange bool
	delay       time.Duration
	requests    map[string]int
	ranges      map[string][]string
	inflight    int
	maxInflight int
	stop        chan struct{}
}

// NewArtifactServer starts a server that is closed when the test ends.
func NewArtifactServer(t testing.TB) *ArtifactServer {
	t.Helper()
	s := &ArtifactServer{
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		cutAfter: make(map[string]int),
		stalls:   make(map[string]bool),
		corrupt:  make(map[string]bool),
		requests: make(map[string]int),
		ranges:   make(map[string][]string),
		stop:     make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Server.Close)
	t.Cleanup(func() { close(s.stop) })
	return s
}

// Add registers data under the mirror-relative name.
func (s *ArtifactServer) Add(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[strings.TrimPrefix(name, "/")] = data
}

// FailNext makes the next n requests for name answer 503.
func (s *ArtifactServer) FailNext(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[strings.TrimPrefix(name, "/")] = n
}

// CutAfter makes the next full response for name drop the connection after n
// body bytes while still declaring the full length.
func (s *ArtifactServer) CutAfter(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutAfter[strings.TrimPrefix(name, "/")] = n
}

// Stall makes requests for name send headers and then hang until the client
// goes away.
func (s *ArtifactServer) Stall(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalls[strings.TrimPrefix(name, "/")] = enabled
}

// Corrupt makes the server flip the first byte of name.
func (s *ArtifactServer) Corrupt(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[strings.TrimPrefix(name, "/")] = enabled
}

// IgnoreRange makes the server answer every request with the full body.
func (s *ArtifactServer) IgnoreRange(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreRange = enabled
}

// SetDelay sleeps before every response.
func (s *ArtifactServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests returns how many requests name received.
func (s *ArtifactServer) Requests(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[strings.TrimPrefix(name, "/")]
}

// Ranges returns the Range headers sent for name, in order.
func (s *ArtifactServer) Ranges(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges[strings.TrimPrefix(name, "/")]...)
}

// MaxInflight returns the largest number of concurrent requests observed.
func (s *ArtifactServer) MaxInflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

func (s *ArtifactServer) handle(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	s.requests[name]++
	s.ranges[name] = append(s.ranges[name], r.Header.Get("Range"))
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	data, ok := s.files[name]
	failing := s.failures[name] > 0
	if failing {
		s.failures[name]--
	}
	cut, cutting := s.cutAfter[name]
	if cutting {
		delete(s.cutAfter, name)
	}
	stall := s.stalls[name]
	corrupt := s.corrupt[name]
	ignoreRange := s.ignoreRange
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		case <-s.stop:
			return
		}
	}

	if !ok {
		http.NotFound(w, r)
		return
	}
	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if corrupt && len(data) > 0 {
		data = append([]byte(nil), data...)
		data[0] ^= 0xff
	}

	switch {
	case stall:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if len(data) > 0 {
			_, _ = w.Write(data[:1])
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-s.stop:
		}
	case cutting:
		if cut > len(data) {
			cut = len(data)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:cut])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	case ignoreRange:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}
}
