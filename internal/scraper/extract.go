package scraper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// jsPostIDs collects the status id of every rendered post, in page order.
// The link wrapping the post's <time> is preferred since quoted posts carry
// their own status links.
const jsPostIDs = `
(() => {
	const ids = [];
	document.querySelectorAll('article[data-testid="tweet"]').forEach(article => {
		const link = article.querySelector('a[href*="/status/"] time')?.closest('a')
			|| article.querySelector('a[href*="/status/"]');
		const id = link?.getAttribute('href')?.match(/\/status\/(\d+)/)?.[1];
		if (id && !ids.includes(id)) ids.push(id);
	});
	return { ids };
})()
`

// jsProfileLocation reads the location shown in a profile header
const jsProfileLocation = `
(() => {
	const el = document.querySelector('[data-testid="UserLocation"] span span')
		|| document.querySelector('[data-testid="UserLocation"]');
	const location = el?.textContent?.trim() || '';
	return { found: location !== '', location };
})()
`

// idList is the result of jsPostIDs
type idList struct {
	IDs []string `json:"ids"`
}

// profileLocation is the result of jsProfileLocation
type profileLocation struct {
	Found    bool   `json:"found"`
	Location string `json:"location"`
}

// postDetail is everything read from a post's permalink page. Text is nil
// when the main post has no text element. PrimaryTime is the main post's
// datetime attribute; TimeValues holds every datetime on the page in order.
type postDetail struct {
	AuthorHandle string
	Text         *string
	Retweets     int
	Likes        int
	Views        int
	Replies      []types.Reply
	PrimaryTime  string
	TimeValues   []string
}

var (
	handlePattern = regexp.MustCompile(`@(\w+)`)
	metricPrefix  = regexp.MustCompile(`^([\d,.]+[KkMm]?)`)
)

// parseDetail extracts a postDetail from permalink page HTML
func parseDetail(html string) (*postDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse post page: %w", err)
	}

	d := &postDetail{TimeValues: timeValues(doc.Selection)}

	articles := doc.Find(TweetArticle)
	if articles.Length() == 0 {
		return d, nil
	}

	main := articles.First()
	d.AuthorHandle = handleFrom(main.Find(TweetAuthor).First())
	if text := main.Find(TweetText).First(); text.Length() > 0 {
		s := strings.TrimSpace(text.Text())
		d.Text = &s
	}
	d.PrimaryTime = main.Find(TimeElement).First().AttrOr("datetime", "")
	d.Retweets, d.Likes, d.Views = counters(main)

	articles.Slice(1, goquery.ToEnd).Each(func(_ int, article *goquery.Selection) {
		author := article.Find(TweetAuthor).First()
		text := article.Find(TweetText).First()
		if author.Length() == 0 || text.Length() == 0 {
			return
		}
		d.Replies = append(d.Replies, types.Reply{
			AuthorHandle: handleFrom(author),
			Text:         strings.TrimSpace(text.Text()),
		})
	})

	return d, nil
}

// timeValues lists the datetime attribute of every time element below sel
func timeValues(sel *goquery.Selection) []string {
	var values []string
	sel.Find(TimeElement).Each(func(_ int, t *goquery.Selection) {
		if v, ok := t.Attr("datetime"); ok {
			values = append(values, v)
		}
	})
	return values
}

func timeValuesFromHTML(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return timeValues(doc.Selection), nil
}

// counters reads retweets, likes and views from the main post
func counters(article *goquery.Selection) (retweets, likes, views int) {
	article.Find(CounterValue).Each(func(_ int, v *goquery.Selection) {
		n := parseMetric(v.Text())
		switch {
		case v.Closest(RetweetsLink).Length() > 0:
			retweets = n
		case v.Closest(LikesLink).Length() > 0:
			likes = n
		case v.Closest(AnalyticsLink).Length() > 0:
			views = n
		}
	})

	// Button labels look like "123 Reposts. Repost"
	if retweets == 0 {
		retweets = ariaMetric(article.Find(RetweetButton).First())
	}
	if likes == 0 {
		likes = ariaMetric(article.Find(LikeButton).First())
	}
	return retweets, likes, views
}

func ariaMetric(sel *goquery.Selection) int {
	m := metricPrefix.FindStringSubmatch(sel.AttrOr("aria-label", ""))
	if m == nil {
		return 0
	}
	return parseMetric(m[1])
}

// handleFrom pulls an @handle out of a User-Name block
func handleFrom(sel *goquery.Selection) string {
	if href, ok := sel.Find(HandleLink).First().Attr("href"); ok {
		h := strings.TrimPrefix(href, "/")
		if i := strings.IndexByte(h, '/'); i >= 0 {
			h = h[:i]
		}
		if h != "" {
			return h
		}
	}
	if m := handlePattern.FindStringSubmatch(sel.Text()); m != nil {
		return m[1]
	}
	return ""
}

// parseTimestamp leniently parses a datetime value. Empty or unparseable
// input reports false.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// firstParseable returns the first value that parses as a date
func firstParseable(values []string) (time.Time, bool) {
	for _, v := range values {
		if t, ok := parseTimestamp(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// timestamp resolves the post time, falling back to scanning every time
// element on the page when the main one is missing or unparseable
func (d *postDetail) timestamp() *time.Time {
	if t, ok := parseTimestamp(d.PrimaryTime); ok {
		return &t
	}
	if t, ok := firstParseable(d.TimeValues); ok {
		return &t
	}
	return nil
}

func (d *postDetail) toPost(id, profile string, scrapedAt time.Time) *types.Post {
	author := d.AuthorHandle
	if author == "" {
		author = profile
	}
	replies := make([]types.Reply, len(d.Replies))
	for i, r := range d.Replies {
		r.PostID = id
		replies[i] = r
	}
	return &types.Post{
		ID:            id,
		ProfileHandle: profile,
		AuthorHandle:  author,
		Text:          d.Text,
		Retweets:      d.Retweets,
		Likes:         d.Likes,
		Views:         d.Views,
		Replies:       replies,
		Timestamp:     d.timestamp(),
		ScrapedAt:     scrapedAt,
	}
}

// parseMetric converts abbreviated metric strings like "1.2K", "5.7M", or "423" to integers
func parseMetric(s string) int {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}

	multiplier := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		multiplier = 1000
		s = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1000000
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}

	return int(math.Round(value * multiplier))
}
