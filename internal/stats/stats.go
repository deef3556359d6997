// Package stats derives monthly activity and reply statistics for a profile.
package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// UnknownMonth buckets posts without a timestamp
const UnknownMonth = "unknown"

// Month aggregates a profile's posts for one calendar month
type Month struct {
	// Key is "YYYY-M", e.g. "2024-3"
	Key           string `json:"month"`
	Posts         int    `json:"posts"`
	OriginalPosts int    `json:"original_posts"`
	Retweets      int    `json:"retweets"`
	Views         int    `json:"views"`
	Likes         int    `json:"likes"`
	Replies       int    `json:"replies"`

	year, month int
}

// Replier is a reply author and how often they replied
type Replier struct {
	Username string `json:"username"`
	Replies  int    `json:"replies"`
}

// Monthly groups a profile's posts by month, oldest first, undated last.
// A post counts as original when its author resembles the profile handle;
// only original posts contribute views.
func Monthly(profile string, posts []types.Post) []Month {
	byKey := make(map[string]*Month)

	for _, p := range posts {
		key, year, month := UnknownMonth, 0, 0
		if p.Timestamp != nil {
			ts := p.Timestamp.UTC()
			year, month = ts.Year(), int(ts.Month())
			key = fmt.Sprintf("%d-%d", year, month)
		}

		m, ok := byKey[key]
		if !ok {
			m = &Month{Key: key, year: year, month: month}
			byKey[key] = m
		}

		m.Posts++
		if SimilarHandles(profile, p.AuthorHandle) {
			m.OriginalPosts++
			m.Views += p.Views
		} else {
			m.Retweets++
		}
		m.Likes += p.Likes
		m.Replies += len(p.Replies)
	}

	out := make([]Month, 0, len(byKey))
	for _, m := range byKey {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Key == UnknownMonth) != (b.Key == UnknownMonth) {
			return b.Key == UnknownMonth
		}
		if a.year != b.year {
			return a.year < b.year
		}
		return a.month < b.month
	})
	return out
}

// TopRepliers returns the n most frequent reply authors on a profile's posts,
// excluding the profile itself. Ties are ordered by username.
func TopRepliers(profile string, posts []types.Post, n int) []Replier {
	self := strings.ToLower(profile)
	counts := make(map[string]int)

	for _, p := range posts {
		for _, r := range p.Replies {
			if r.AuthorHandle == "" || strings.Contains(strings.ToLower(r.AuthorHandle), self) {
				continue
			}
			counts[r.AuthorHandle]++
		}
	}

	out := make([]Replier, 0, len(counts))
	for name, c := range counts {
		out = append(out, Replier{Username: name, Replies: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Replies != out[j].Replies {
			return out[i].Replies > out[j].Replies
		}
		return out[i].Username < out[j].Username
	})

	if len(out) > n {
		out = out[:n]
	}
	return out
}

// SimilarHandles reports whether two handles look like the same account,
// ignoring case, a leading "@" and punctuation
func SimilarHandles(profile, author string) bool {
	if i := strings.IndexByte(author, '@'); i >= 0 {
		author = author[i+1:]
	}
	a, b := normalize(profile), normalize(author)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func normalize(handle string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(handle) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
