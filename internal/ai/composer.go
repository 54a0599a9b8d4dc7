package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

const composeSystemPrompt = "You are a news editor titling a daily digest. Respond only with valid JSON."

const composePromptTemplate = `Write a short, specific title (at most 10 words) for a %s digest
covering these topics:
%s

Respond with ONLY a JSON object: {"title": "..."}`

// DigestComposer asks a Provider to title a digest from its topic
// clusters. Narrative rendering and delivery happen downstream; the
// composer only names the selection.
type DigestComposer struct {
	provider Provider
}

// NewDigestComposer wraps a Provider.
func NewDigestComposer(p Provider) *DigestComposer {
	return &DigestComposer{provider: p}
}

// ComposeTitle returns a digest title. Clusters may be empty; titles
// then derive from the item headlines.
func (c *DigestComposer) ComposeTitle(ctx context.Context, domainName string, clusters []domain.TopicCluster, items []domain.FeedItem) (string, error) {
	var topics []string
	for _, cl := range clusters {
		topics = append(topics, "- "+cl.Name)
	}
	if len(topics) == 0 {
		for i, it := range items {
			if i == 5 {
				break
			}
			topics = append(topics, "- "+it.Title)
		}
	}
	if len(topics) == 0 {
		return "", fmt.Errorf("ai: nothing to title")
	}

	resp, err := c.provider.Complete(ctx, Request{
		System:      composeSystemPrompt,
		Prompt:      fmt.Sprintf(composePromptTemplate, domainName, strings.Join(topics, "\n")),
		MaxTokens:   100,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("ai: compose title: %w", err)
	}

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(StripFences(resp)), &parsed); err != nil {
		return "", fmt.Errorf("ai: parse title: %w", err)
	}
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		return "", fmt.Errorf("ai: empty title")
	}
	return title, nil
}
