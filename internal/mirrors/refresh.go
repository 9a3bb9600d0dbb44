package mirrors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fetchledger/internal/faults"
	"fetchledger/internal/logging"
)

const maxListBytes = 1 << 20

// Refresh fetches a one-URL-per-line mirror list from listURL and replaces the
// good list with it. Quarantined mirrors stay quarantined. An empty list is an
// error and leaves the pool untouched.
func (p *Pool) Refresh(ctx context.Context, client *http.Client, listURL string) (int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return 0, faults.Wrap(faults.ErrNetwork, "mirrors", "refresh", listURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, faults.Wrap(faults.ErrNetwork, "mirrors", "refresh", listURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, faults.Wrap(faults.ErrNetwork, "mirrors", "refresh", fmt.Sprintf("%s returned status %d", listURL, resp.StatusCode), nil)
	}

	urls, err := ParseList(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return 0, faults.Wrap(faults.ErrNetwork, "mirrors", "refresh", "read list", err)
	}
	if len(urls) == 0 {
		return 0, faults.Wrap(faults.ErrNetwork, "mirrors", "refresh", listURL+" listed no usable mirrors", nil)
	}

	count, err := p.Replace(urls)
	if err != nil {
		return count, err
	}
	p.logger.Info("mirror list refreshed",
		logging.String("list_url", listURL),
		logging.Int("listed", len(urls)),
		logging.Int("good", count),
	)
	return count, nil
}

// ParseList reads http(s) base URLs, one per line. Blank lines, '#' comments
// and entries that are not http(s) URLs are skipped.
func ParseList(r io.Reader) ([]string, error) {
	var urls []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parsed, err := url.Parse(line)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			continue
		}
		u := normalize(line)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls, scanner.Err()
}
