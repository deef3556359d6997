package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Session is one open browser tab. Calls are not safe for concurrent use.
type Session interface {
	// Navigate loads url and waits for the document to be ready
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// WaitVisible blocks until selector is visible. Timeouts return *NavigationError.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Evaluate runs a JS expression and decodes its JSON result into out
	Evaluate(ctx context.Context, expression string, out any) error
	// HTML returns the serialized document
	HTML(ctx context.Context) (string, error)
	ScrollToBottom(ctx context.Context) error
	Height(ctx context.Context) (int64, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher opens browser sessions
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}

// CookieSource provides session cookies injected before the first navigation
type CookieSource interface {
	Cookies() ([]*network.Cookie, error)
}

// Chrome launches a local Chrome via chromedp
type Chrome struct {
	headless bool
	execPath string
	cookies  CookieSource
	logger   zerolog.Logger
}

// NewChrome creates a launcher. cookies may be nil.
func NewChrome(headless bool, execPath string, cookies CookieSource, logger zerolog.Logger) *Chrome {
	return &Chrome{
		headless: headless,
		execPath: execPath,
		cookies:  cookies,
		logger:   logger.With().Str("component", "browser").Logger(),
	}
}

// Open starts a browser bound to ctx and returns its first tab
func (c *Chrome) Open(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(c.headless, c.execPath)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// An empty run starts the browser process
	if err := chromedp.Run(tabCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if err := c.injectCookies(tabCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("inject cookies: %w", err)
	}

	return s, nil
}

func (c *Chrome) injectCookies(ctx context.Context) error {
	if c.cookies == nil {
		return nil
	}

	cookies, err := c.cookies.Cookies()
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Msg("No stored session cookies, browsing logged out")
		return nil
	}
	if err != nil {
		return err
	}

	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, ck := range cookies {
				err := network.SetCookie(ck.Name, ck.Value).
					WithDomain(ck.Domain).
					WithPath(ck.Path).
					WithSecure(ck.Secure).
					WithHTTPOnly(ck.HTTPOnly).
					WithSameSite(ck.SameSite).
					Do(ctx)
				if err != nil {
					return fmt.Errorf("set cookie %s: %w", ck.Name, err)
				}
			}
			return nil
		}),
	)
}

type chromeSession struct {
	ctx    context.Context
	cancel func()
	url    string
}

// run executes actions on the tab, bounded by timeout (if positive) and by ctx
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	s.url = url
	if err := s.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

func (s *chromeSession) Reload(ctx context.Context) error {
	if err := s.run(ctx, 0, chromedp.Reload()); err != nil {
		return &NavigationError{URL: s.url, Err: err}
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return &NavigationError{URL: s.url, Selector: selector, Err: err}
	}
	return nil
}

func (s *chromeSession) Evaluate(ctx context.Context, expression string, out any) error {
	return s.run(ctx, 0, chromedp.Evaluate(expression, out))
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, 0, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

func (s *chromeSession) Height(ctx context.Context) (int64, error) {
	var h int64
	if err := s.run(ctx, 0, chromedp.Evaluate(`document.body.scrollHeight`, &h)); err != nil {
		return 0, err
	}
	return h, nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
