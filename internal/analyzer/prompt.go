package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// ErrUnparseable marks an analysis answer that could not be turned into scores
var ErrUnparseable = errors.New("unparseable analysis response")

// responseKeys maps each score, in types.ScoreColumns order, to its place in
// the answer object
var responseKeys = [...]struct{ group, key string }{
	{"engagementMetrics", "likeRatio"},
	{"engagementMetrics", "retweetRatio"},
	{"engagementMetrics", "replyRatio"},
	{"engagementMetrics", "viewRatio"},
	{"engagementMetrics", "engagementRate"},
	{"contentStyle", "informative"},
	{"contentStyle", "emotional"},
	{"contentStyle", "promotional"},
	{"contentStyle", "interactive"},
	{"contentStyle", "storytelling"},
	{"sentimentAndEffectiveness", "positivity"},
	{"sentimentAndEffectiveness", "controversy"},
	{"sentimentAndEffectiveness", "clarity"},
	{"sentimentAndEffectiveness", "authenticity"},
	{"sentimentAndEffectiveness", "timeliness"},
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// BuildPrompt constructs the scoring prompt for a post and its replies
func BuildPrompt(post *types.Post) string {
	var sb strings.Builder

	sb.WriteString("Analyze the following post and its replies.\n\n")

	text := ""
	if post.Text != nil {
		text = *post.Text
	}
	sb.WriteString(fmt.Sprintf("Post: %q\n", text))
	sb.WriteString(fmt.Sprintf("Retweets: %d\n", post.Retweets))
	sb.WriteString(fmt.Sprintf("Likes: %d\n", post.Likes))
	sb.WriteString(fmt.Sprintf("Views: %d\n\n", post.Views))

	sb.WriteString("Replies:\n")
	if len(post.Replies) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, r := range post.Replies {
		sb.WriteString(fmt.Sprintf("- %s\n", r.Text))
	}

	sb.WriteString("\n## Task\n\n")
	sb.WriteString("Rate each metric on a scale of 0 to 100, where 0 is the lowest and 100 is the highest.\n\n")
	sb.WriteString("1. Engagement metrics: like ratio, retweet ratio, reply ratio, view ratio, engagement rate\n")
	sb.WriteString("2. Content style: informative, emotional, promotional, interactive, storytelling\n")
	sb.WriteString("3. Sentiment and effectiveness: positivity, controversy, clarity, authenticity, timeliness\n\n")

	sb.WriteString("IMPORTANT: Respond with ONLY a valid JSON object. No markdown, no code blocks, no explanation.\n\n")
	sb.WriteString("Example structure:\n")
	sb.WriteString(`{"engagementMetrics": {"likeRatio": 0, "retweetRatio": 0, "replyRatio": 0, "viewRatio": 0, "engagementRate": 0}, `)
	sb.WriteString(`"contentStyle": {"informative": 0, "emotional": 0, "promotional": 0, "interactive": 0, "storytelling": 0}, `)
	sb.WriteString(`"sentimentAndEffectiveness": {"positivity": 0, "controversy": 0, "clarity": 0, "authenticity": 0, "timeliness": 0}}`)
	sb.WriteString("\n")

	return sb.String()
}

// ParseScores reads the scores out of an untrusted analysis answer. Every
// score must be present and within 0..100.
func ParseScores(raw string) (types.Scores, error) {
	var scores types.Scores

	body, ok := extractJSON(raw)
	if !ok {
		return scores, fmt.Errorf("%w: no JSON object found", ErrUnparseable)
	}

	var groups map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &groups); err != nil {
		return scores, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	parsed := make(map[string]map[string]float64, 3)
	dst := scores.Fields()
	for i, k := range responseKeys {
		values, ok := parsed[k.group]
		if !ok {
			rawGroup, found := groups[k.group]
			if !found {
				return types.Scores{}, fmt.Errorf("%w: missing %s", ErrUnparseable, k.group)
			}
			if err := json.Unmarshal(rawGroup, &values); err != nil {
				return types.Scores{}, fmt.Errorf("%w: %s: %v", ErrUnparseable, k.group, err)
			}
			parsed[k.group] = values
		}

		v, found := values[k.key]
		if !found {
			return types.Scores{}, fmt.Errorf("%w: missing %s.%s", ErrUnparseable, k.group, k.key)
		}
		if math.IsNaN(v) || v < 0 || v > 100 {
			return types.Scores{}, fmt.Errorf("%w: %s.%s out of range: %v", ErrUnparseable, k.group, k.key, v)
		}
		*dst[i] = v
	}

	return scores, nil
}

// extractJSON pulls a JSON object out of a model answer, handling code fences
// and surrounding prose
func extractJSON(text string) (string, bool) {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return m[1], true
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
