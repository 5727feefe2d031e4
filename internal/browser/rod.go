package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"chatdock/internal/classify"
	"chatdock/internal/config"
)

// Vendor widget selectors.
const (
	selStartChat     = "div.chat-actions button.btn.btn-primary"
	selComposerFrame = `iframe[name="spr-chat__box-frame"]`
	selComposer      = "#COMPOSER_ID"
	selSubmit        = `[data-testid="Submit"]`
)

// Options configures a rod driver for one session instance.
type Options struct {
	Headless          bool
	UserAgent         string
	Proxy             config.Proxy
	BrowserBin        string
	FindTimeout       time.Duration
	NavigationTimeout time.Duration
}

// RodDriver drives one Chrome page through rod.
type RodDriver struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	cancel  context.CancelFunc
	closed  bool
}

// NewRodDriver creates an unstarted driver.
func NewRodDriver(opts Options, log *zap.Logger) *RodDriver {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.FindTimeout == 0 {
		opts.FindTimeout = config.DefaultFindTimeout
	}
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = config.DefaultNavigationTimeout
	}
	return &RodDriver{opts: opts, log: log}
}

// Start launches Chrome and opens a blank page with the session's identity
// (user agent, proxy credentials) applied.
func (d *RodDriver) Start(ctx context.Context) error {
	l := launcher.New().
		Headless(d.opts.Headless).
		Set(flags.NoSandbox).
		Set("disable-setuid-sandbox").
		Set("disable-gpu").
		Set("lang", "en-US")
	if d.opts.BrowserBin != "" {
		l = l.Bin(d.opts.BrowserBin)
	}
	if d.opts.Proxy.URL != "" {
		l = l.Set(flags.ProxyServer, d.opts.Proxy.URL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	browser := rod.New().ControlURL(controlURL).Context(runCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	if d.opts.Proxy.Username != "" && d.opts.Proxy.Password != "" {
		wait := browser.HandleAuth(d.opts.Proxy.Username, d.opts.Proxy.Password)
		go func() { _ = wait() }()
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		cancel()
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}

	if d.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.opts.UserAgent}); err != nil {
			d.log.Warn("set user agent failed", zap.Error(err))
		}
	}

	d.mu.Lock()
	d.browser = browser
	d.page = page
	d.cancel = cancel
	d.mu.Unlock()
	return nil
}

func (d *RodDriver) currentPage() (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.page == nil {
		return nil, errors.New("browser page not available")
	}
	return d.page, nil
}

// Navigate loads url, bounded by the navigation timeout.
func (d *RodDriver) Navigate(ctx context.Context, u string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return page.Context(ctx).Timeout(d.opts.NavigationTimeout).Navigate(u)
}

// Intercept wires CDP network responses into handler. Bodies that cannot be
// buffered (redirects, streamed responses) are delivered nil; the classifier
// tolerates that.
func (d *RodDriver) Intercept(handler func(classify.Exchange)) {
	page, err := d.currentPage()
	if err != nil {
		return
	}
	wait := page.EachEvent(func(ev *proto.NetworkResponseReceived) {
		if ev.Response == nil {
			return
		}
		var body []byte
		res, err := proto.NetworkGetResponseBody{RequestID: ev.RequestID}.Call(page)
		if err == nil && res != nil {
			if res.Base64Encoded {
				if decoded, err := base64.StdEncoding.DecodeString(res.Body); err == nil {
					body = decoded
				}
			} else {
				body = []byte(res.Body)
			}
		}
		handler(classify.Exchange{
			URL:    baseURL(ev.Response.URL),
			Status: ev.Response.Status,
			Body:   body,
		})
	})
	go wait()
}

// ClickStartChat finds and presses the start-chat button.
func (d *RodDriver) ClickStartChat(ctx context.Context) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Timeout(d.opts.FindTimeout).Element(selStartChat)
	if err != nil {
		return fmt.Errorf("start chat button not found: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click start chat: %w", err)
	}
	return nil
}

// composerFrame resolves the chat widget iframe.
func (d *RodDriver) composerFrame(ctx context.Context) (*rod.Page, error) {
	page, err := d.currentPage()
	if err != nil {
		return nil, err
	}
	frameEl, err := page.Context(ctx).Timeout(d.opts.FindTimeout).Element(selComposerFrame)
	if err != nil {
		return nil, fmt.Errorf("chat frame not found: %w", err)
	}
	frame, err := frameEl.Frame()
	if err != nil {
		return nil, fmt.Errorf("resolve chat frame: %w", err)
	}
	return frame, nil
}

// SendMessage types text into the composer and presses submit.
func (d *RodDriver) SendMessage(ctx context.Context, text string) error {
	frame, err := d.composerFrame(ctx)
	if err != nil {
		return err
	}
	composer, err := frame.Timeout(d.opts.FindTimeout).Element(selComposer)
	if err != nil {
		return fmt.Errorf("composer not found: %w", err)
	}
	if err := composer.Focus(); err != nil {
		return fmt.Errorf("focus composer: %w", err)
	}
	if err := composer.Input(text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	return d.submit(frame)
}

// FillSecureField fills the secure-form input identified by fieldID.
func (d *RodDriver) FillSecureField(ctx context.Context, fieldID, value string) error {
	frame, err := d.composerFrame(ctx)
	if err != nil {
		return err
	}
	field, err := frame.Timeout(d.opts.FindTimeout).Element(`[id="` + fieldID + `"]`)
	if err != nil {
		return fmt.Errorf("secure field %s not found: %w", fieldID, err)
	}
	if err := field.Input(value); err != nil {
		return fmt.Errorf("fill secure field: %w", err)
	}
	return d.submit(frame)
}

func (d *RodDriver) submit(frame *rod.Page) error {
	btn, err := frame.Timeout(d.opts.FindTimeout).Element(selSubmit)
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	return nil
}

// Close cancels the event stream, then closes the page and browser.
// Idempotent; later calls are no-ops.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	browser, page, cancel := d.browser, d.page, d.cancel
	d.browser, d.page, d.cancel = nil, nil, nil
	d.mu.Unlock()

	var firstErr error
	if page != nil {
		if err := page.Close(); err != nil {
			firstErr = err
		}
	}
	if browser != nil {
		if err := browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if cancel != nil {
		cancel()
	}
	return firstErr
}

// baseURL strips query and fragment, keeping origin plus path.
func baseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
