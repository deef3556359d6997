package scraper

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/profilepulse/internal/browser"
	"github.com/ibeckermayer/profilepulse/internal/store"
)

const testBase = "https://x.test"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLauncher struct {
	session *fakeSession
	opens   int
}

func (l *fakeLauncher) Open(context.Context) (browser.Session, error) {
	l.opens++
	return l.session, nil
}

// fakeSession scripts a profile feed and permalink pages keyed by URL
type fakeSession struct {
	// feed returns the ids rendered on the profile after the given number of scrolls
	feed func(scroll int) []string
	// growing makes the profile height increase with every scroll
	growing       bool
	markerMissing bool
	location      profileLocation
	pages         map[string]string

	current     string
	navigations []string
	reloads     int
	idCalls     int
	scrolls     int
	closed      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		feed:  func(int) []string { return nil },
		pages: make(map[string]string),
	}
}

func (s *fakeSession) onProfile() bool {
	return !strings.Contains(s.current, "/status/")
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.current = url
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *fakeSession) Reload(context.Context) error {
	s.reloads++
	return nil
}

func (s *fakeSession) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	if selector == PrimaryColumn && s.markerMissing {
		return &browser.NavigationError{URL: s.current, Selector: selector, Err: context.DeadlineExceeded}
	}
	return nil
}

func (s *fakeSession) Evaluate(_ context.Context, _ string, out any) error {
	switch v := out.(type) {
	case *idList:
		v.IDs = s.feed(s.idCalls)
		s.idCalls++
	case *profileLocation:
		*v = s.location
	default:
		return fmt.Errorf("unexpected evaluate target %T", out)
	}
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	if html, ok := s.pages[s.current]; ok {
		return html, nil
	}
	return "<html><body></body></html>", nil
}

func (s *fakeSession) ScrollToBottom(context.Context) error {
	if s.onProfile() {
		s.scrolls++
	}
	return nil
}

func (s *fakeSession) Height(context.Context) (int64, error) {
	if s.onProfile() && s.growing {
		return 1000 + int64(s.scrolls)*500, nil
	}
	return 1000, nil
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSession) permalinkVisits() []string {
	var out []string
	for _, u := range s.navigations {
		if i := strings.LastIndex(u, "/status/"); i >= 0 {
			out = append(out, u[i+len("/status/"):])
		}
	}
	return out
}

type fakeAnalyzer struct {
	mu         sync.Mutex
	analyzed   []string
	aggregated []string
}

func (a *fakeAnalyzer) AnalyzeOne(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.analyzed = append(a.analyzed, id)
	return nil
}

func (a *fakeAnalyzer) RecomputeUserAggregate(_ context.Context, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aggregated = append(a.aggregated, username)
	return nil
}

type recordingProgress struct {
	msgs []string
}

func (p *recordingProgress) Send(msg string) {
	p.msgs = append(p.msgs, msg)
}

func testOptions() Options {
	o := DefaultOptions()
	o.BaseURL = testBase
	o.MarkerTimeout = 0
	o.RetryDelay = time.Millisecond
	o.NavigationWindow = 50 * time.Millisecond
	o.ProfileSettle = 0
	o.ScrollSettle = 0
	o.RecoveryDelay = 0
	o.LocationDelay = 0
	o.MaxScrolls = 20
	return o
}

type harness struct {
	crawler  *Crawler
	store    *store.Store
	session  *fakeSession
	launcher *fakeLauncher
	analyzer *fakeAnalyzer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	session := newFakeSession()
	launcher := &fakeLauncher{session: session}
	analyzer := &fakeAnalyzer{}

	c := New(launcher, st, analyzer, testOptions(), zerolog.Nop())
	c.now = func() time.Time { return testNow }

	return &harness{crawler: c, store: st, session: session, launcher: launcher, analyzer: analyzer}
}

func permalink(user, id string) string {
	return testBase + "/" + user + "/status/" + id
}

type reply struct {
	handle, text, datetime string
}

// postPage renders a minimal permalink page: the main article followed by replies
func postPage(author, text, datetime string, replies ...reply) string {
	var b strings.Builder
	b.WriteString(`<html><body><div data-testid="primaryColumn">`)
	fmt.Fprintf(&b, `<article data-testid="tweet">
		<div data-testid="User-Name"><a href="/%[1]s"><span>%[1]s</span></a><a href="/%[1]s"><span>@%[1]s</span></a></div>`, author)
	if text != "" {
		fmt.Fprintf(&b, `<div data-testid="tweetText"><span>%s</span></div>`, text)
	}
	fmt.Fprintf(&b, `<a href="/%s/status/1"><time datetime="%s">time</time></a>`, author, datetime)
	b.WriteString(`<a href="/x/status/1/retweets"><span data-testid="app-text-transition-container">1.5K</span></a>`)
	b.WriteString(`<a href="/x/status/1/likes"><span data-testid="app-text-transition-container">2,345</span></a>`)
	b.WriteString(`<a href="/x/status/1/analytics"><span data-testid="app-text-transition-container">1.2M</span></a>`)
	b.WriteString(`</article>`)
	for _, r := range replies {
		fmt.Fprintf(&b, `<article data-testid="tweet">
			<div data-testid="User-Name"><a href="/%[1]s"><span>%[1]s</span></a></div>
			<div data-testid="tweetText">%[2]s</div>
			<time datetime="%[3]s">t</time>
		</article>`, r.handle, r.text, r.datetime)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func ids(prefix string, from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, from+i)
	}
	return out
}
