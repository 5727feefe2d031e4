// Package config holds the per-session automation parameters and the
// process-level configuration file they are loaded from. A Session value is
// immutable once handed to a chat session; the file store supports hot reload
// so later sessions pick up edited pools.
package config

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// Defaults mirrored by Normalize.
const (
	DefaultDebounceWaitTime   = 30 * time.Second
	DefaultDebounceNewMessage = 20 * time.Second
	DefaultRestartDelay       = 5 * time.Second
	DefaultMessagePacing      = 2 * time.Second
	DefaultFindTimeout        = 30 * time.Second
	DefaultNavigationTimeout  = 30 * time.Second
	DefaultWelcomeParam       = "helpText"
)

// Session carries everything one chat session needs at creation time.
type Session struct {
	// EntryURL is the vendor chat entry page. The chosen welcome text is
	// appended as the WelcomeParam query parameter.
	EntryURL     string
	WelcomeParam string

	WelcomeTexts   []string
	ReplyTemplates []string
	ProxyPool      []string
	UserAgents     []string

	AutoReply bool
	Headless  bool

	DebounceWaitTime   time.Duration
	DebounceNewMessage time.Duration
	RestartDelay       time.Duration
	MessagePacing      time.Duration
	FindTimeout        time.Duration
	NavigationTimeout  time.Duration

	// BrowserBin optionally pins the Chrome binary to launch.
	BrowserBin string
}

// defaultUserAgents is the built-in pool used when none are configured, so a
// fresh install still varies the browser identity per session.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// DefaultUserAgents returns a copy of the built-in user-agent pool.
func DefaultUserAgents() []string {
	return append([]string(nil), defaultUserAgents...)
}

// DefaultSession returns a session config with all durations filled.
func DefaultSession() Session {
	return Session{
		WelcomeParam:       DefaultWelcomeParam,
		UserAgents:         DefaultUserAgents(),
		AutoReply:          true,
		Headless:           true,
		DebounceWaitTime:   DefaultDebounceWaitTime,
		DebounceNewMessage: DefaultDebounceNewMessage,
		RestartDelay:       DefaultRestartDelay,
		MessagePacing:      DefaultMessagePacing,
		FindTimeout:        DefaultFindTimeout,
		NavigationTimeout:  DefaultNavigationTimeout,
	}
}

// Normalize fills zero-valued durations with defaults.
func (c *Session) Normalize() {
	if c.WelcomeParam == "" {
		c.WelcomeParam = DefaultWelcomeParam
	}
	if c.DebounceWaitTime == 0 {
		c.DebounceWaitTime = DefaultDebounceWaitTime
	}
	if c.DebounceNewMessage == 0 {
		c.DebounceNewMessage = DefaultDebounceNewMessage
	}
	if c.RestartDelay == 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.MessagePacing == 0 {
		c.MessagePacing = DefaultMessagePacing
	}
	if c.FindTimeout == 0 {
		c.FindTimeout = DefaultFindTimeout
	}
	if c.NavigationTimeout == 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
}

// Validate checks the invariants a session relies on.
func (c Session) Validate() error {
	if c.EntryURL == "" {
		return errors.New("entry URL is required")
	}
	if _, err := url.Parse(c.EntryURL); err != nil {
		return fmt.Errorf("entry URL: %w", err)
	}
	if len(c.WelcomeTexts) == 0 {
		return errors.New("welcome text pool is empty")
	}
	if len(c.ReplyTemplates) == 0 {
		return errors.New("reply template pool is empty")
	}
	return nil
}

// PickWelcome selects a random welcome text from the pool.
func (c Session) PickWelcome(r *rand.Rand) string {
	if len(c.WelcomeTexts) == 0 {
		return ""
	}
	return c.WelcomeTexts[r.Intn(len(c.WelcomeTexts))]
}

// PickUserAgent selects a random user agent, or "" when the pool is empty.
func (c Session) PickUserAgent(r *rand.Rand) string {
	if len(c.UserAgents) == 0 {
		return ""
	}
	return c.UserAgents[r.Intn(len(c.UserAgents))]
}

// EntryURLFor builds the entry URL with the welcome text query parameter.
func (c Session) EntryURLFor(welcome string) string {
	u, err := url.Parse(c.EntryURL)
	if err != nil || welcome == "" {
		return c.EntryURL
	}
	q := u.Query()
	q.Set(c.WelcomeParam, welcome)
	u.RawQuery = q.Encode()
	return u.String()
}

// Proxy is one parsed proxy pool entry.
type Proxy struct {
	URL      string
	Username string
	Password string
}

// ParseProxyLine parses "host:port" or "host:port|user:pass". Blank lines are
// reported via ok=false rather than an error so the pool tolerates padding.
func ParseProxyLine(line string) (Proxy, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Proxy{}, false
	}
	addr, auth, hasAuth := strings.Cut(line, "|")
	p := Proxy{URL: strings.TrimSpace(addr)}
	if p.URL == "" {
		return Proxy{}, false
	}
	if hasAuth {
		if user, pass, ok := strings.Cut(auth, ":"); ok {
			p.Username = user
			p.Password = pass
		}
	}
	return p, true
}

// PickProxy selects a random parseable entry from the proxy pool.
func (c Session) PickProxy(r *rand.Rand) (Proxy, bool) {
	if len(c.ProxyPool) == 0 {
		return Proxy{}, false
	}
	return ParseProxyLine(c.ProxyPool[r.Intn(len(c.ProxyPool))])
}

// SplitPool turns a newline-delimited pool field into trimmed entries,
// dropping blanks.
func SplitPool(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
