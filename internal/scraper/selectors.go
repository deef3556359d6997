package scraper

// X.com DOM selectors
// These are isolated here because X changes their DOM frequently
// Update these when scraping breaks

const (
	// Page markers
	PrimaryColumn = `[data-testid="primaryColumn"]`
	TweetArticle  = `article[data-testid="tweet"]`
	TimeElement   = `time`

	// Post content
	TweetText   = `[data-testid="tweetText"]`
	TweetAuthor = `[data-testid="User-Name"]`
	TweetLink   = `a[href*="/status/"]`
	HandleLink  = `a[href^="/"]`

	// Counters. The animated number container sits inside the link that
	// leads to the counter's detail page.
	CounterValue  = `[data-testid="app-text-transition-container"]`
	RetweetsLink  = `a[href*="/retweets"]`
	LikesLink     = `a[href*="/likes"]`
	AnalyticsLink = `a[href*="/analytics"]`
	RetweetButton = `[data-testid="retweet"]`
	LikeButton    = `[data-testid="like"]`

	// Profile header
	UserLocation = `[data-testid="UserLocation"]`
)
