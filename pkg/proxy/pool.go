// Package proxy hands out upstream proxies to fetch sessions. A session keeps
// the proxy it was given for its whole life, so cookies and the site's view
// of the client stay consistent; failures it reports bench the proxy for a
// cooldown so later sessions avoid it.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknown is returned when reporting on a proxy the pool never handed out.
var ErrUnknown = errors.New("proxy: not in pool")

// Proxy is one upstream endpoint and its health.
type Proxy struct {
	URL *url.URL
	// Leases counts sessions that were given this proxy.
	Leases   int
	Failures int
	// BenchedUntil is zero while the proxy is usable.
	BenchedUntil time.Time
}

func (p *Proxy) usable(now time.Time) bool {
	return p.BenchedUntil.IsZero() || now.After(p.BenchedUntil)
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures consecutive failures bench a proxy (default 3).
	MaxFailures int
	// Cooldown is how long a benched proxy sits out (default 5m).
	Cooldown time.Duration
}

// Pool is a round-robin set of proxies with failure tracking. It is safe for
// concurrent use by many sessions.
type Pool struct {
	mu      sync.Mutex
	proxies []*Proxy
	next    int
	cfg     Config
	now     func() time.Time
}

// NewPool creates an empty pool. Zero config values take the defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{cfg: cfg, now: time.Now}
}

// LoadFile adds the proxies listed in path, one URL per line. Blank lines
// and lines starting with # are skipped.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return p.Add(urls...)
}

// Add parses and appends proxies. A missing scheme means http. Nothing is
// added if any entry is invalid.
func (p *Pool) Add(rawURLs ...string) error {
	parsed := make([]*Proxy, 0, len(rawURLs))
	for _, raw := range rawURLs {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: %q has no host", raw)
		}
		parsed = append(parsed, &Proxy{URL: u})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append(p.proxies, parsed...)
	return nil
}

// Next leases the next usable proxy in round-robin order. It returns nil when
// the pool is empty or every proxy is benched.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.proxies {
		prx := p.proxies[p.next]
		p.next = (p.next + 1) % len(p.proxies)

		if !prx.usable(now) {
			continue
		}
		if !prx.BenchedUntil.IsZero() {
			// back from the bench with a clean slate
			prx.BenchedUntil = time.Time{}
			prx.Failures = 0
		}
		prx.Leases++
		return prx.URL
	}
	return nil
}

// Report records the outcome of a request made through proxyURL. A success
// clears the failure streak; MaxFailures failures in a row bench the proxy.
// Throttled responses count as failures: the site has flagged that address.
func (p *Pool) Report(proxyURL *url.URL, ok bool) error {
	if proxyURL == nil {
		return errors.New("proxy: nil proxy URL")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.find(proxyURL)
	if prx == nil {
		return fmt.Errorf("%w: %s", ErrUnknown, proxyURL.Redacted())
	}

	if ok {
		prx.Failures = 0
		return nil
	}
	prx.Failures++
	if prx.Failures >= p.cfg.MaxFailures {
		prx.BenchedUntil = p.now().Add(p.cfg.Cooldown)
	}
	return nil
}

// Lock must be held.
func (p *Pool) find(u *url.URL) *Proxy {
	target := u.String()
	for _, prx := range p.proxies {
		if prx.URL.String() == target {
			return prx
		}
	}
	return nil
}

// Len reports how many proxies the pool holds, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Healthy reports how many proxies are currently usable.
func (p *Pool) Healthy() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := 0
	for _, prx := range p.proxies {
		if prx.usable(now) {
			n++
		}
	}
	return n
}
