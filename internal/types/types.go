package types

import "time"

// User is a tracked X profile
type User struct {
	Username string  `json:"username"`
	Location *string `json:"location,omitempty"`
}

// Post represents a scraped X post on a tracked profile
type Post struct {
	ID            string     `json:"id"`
	ProfileHandle string     `json:"profile_handle"`
	AuthorHandle  string     `json:"author_handle"`
	Text          *string    `json:"text"`
	Retweets      int        `json:"retweets"`
	Likes         int        `json:"likes"`
	Views         int        `json:"views"`
	Replies       []Reply    `json:"replies"`
	Timestamp     *time.Time `json:"timestamp"`
	ScrapedAt     time.Time  `json:"scraped_at"`
}

// HasText reports whether the post carries non-blank text worth analyzing
func (p *Post) HasText() bool {
	return p.Text != nil && len(*p.Text) > 0
}

// Reply is a threaded response shown on a post's permalink page
type Reply struct {
	PostID       string `json:"post_id"`
	AuthorHandle string `json:"author_handle"`
	Text         string `json:"text"`
}

// Scores holds the fifteen model-derived scores for a post, each 0-100
type Scores struct {
	// Engagement ratios
	LikeRatio      float64 `json:"like_ratio"`
	RetweetRatio   float64 `json:"retweet_ratio"`
	ReplyRatio     float64 `json:"reply_ratio"`
	ViewRatio      float64 `json:"view_ratio"`
	EngagementRate float64 `json:"engagement_rate"`

	// Content style
	Informative  float64 `json:"informative"`
	Emotional    float64 `json:"emotional"`
	Promotional  float64 `json:"promotional"`
	Interactive  float64 `json:"interactive"`
	Storytelling float64 `json:"storytelling"`

	// Sentiment and effectiveness
	Positivity   float64 `json:"positivity"`
	Controversy  float64 `json:"controversy"`
	Clarity      float64 `json:"clarity"`
	Authenticity float64 `json:"authenticity"`
	Timeliness   float64 `json:"timeliness"`
}

// ScoreColumns lists the score names in the order returned by Fields
var ScoreColumns = []string{
	"like_ratio", "retweet_ratio", "reply_ratio", "view_ratio", "engagement_rate",
	"informative", "emotional", "promotional", "interactive", "storytelling",
	"positivity", "controversy", "clarity", "authenticity", "timeliness",
}

// Fields returns pointers to every score in ScoreColumns order
func (s *Scores) Fields() []*float64 {
	return []*float64{
		&s.LikeRatio, &s.RetweetRatio, &s.ReplyRatio, &s.ViewRatio, &s.EngagementRate,
		&s.Informative, &s.Emotional, &s.Promotional, &s.Interactive, &s.Storytelling,
		&s.Positivity, &s.Controversy, &s.Clarity, &s.Authenticity, &s.Timeliness,
	}
}

// Mean averages each score across the given set. An empty set yields zero scores.
func Mean(all []Scores) Scores {
	var sum Scores
	if len(all) == 0 {
		return sum
	}
	dst := sum.Fields()
	for i := range all {
		for j, v := range all[i].Fields() {
			*dst[j] += *v
		}
	}
	n := float64(len(all))
	for _, f := range dst {
		*f /= n
	}
	return sum
}

// PostMetrics is the score row for a single post
type PostMetrics struct {
	PostID     string    `json:"post_id"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	Scores
}

// UserMetrics holds per-user averages of all scored posts
type UserMetrics struct {
	Username    string    `json:"username"`
	PostsScored int       `json:"posts_scored"`
	UpdatedAt   time.Time `json:"updated_at"`
	Scores
}

// AnalysisRecord keeps the raw model output for a post, parsed or not
type AnalysisRecord struct {
	PostID     string    `json:"post_id"`
	Model      string    `json:"model"`
	Response   string    `json:"response"`
	Parsed     bool      `json:"parsed"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// PostReport combines a post with its replies, metrics and latest analysis record
type PostReport struct {
	Post
	Metrics  *PostMetrics    `json:"metrics,omitempty"`
	Analysis *AnalysisRecord `json:"analysis,omitempty"`
}
