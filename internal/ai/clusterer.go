package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

const clusterSystemPrompt = "You are a news editor organizing articles into distinct topics. Respond only with valid JSON."

const clusterPromptTemplate = `Group these %d articles into at most %d distinct topics.

ARTICLES:
%s

DOMAIN: %s

For each topic provide:
- name: short topic name (3-5 words)
- description: one sentence
- keywords: 3-5 defining keywords
- article_ids: IDs of member articles (each article in exactly one topic)
- importance_score: 0.0-1.0 by newsworthiness

Sort topics by importance_score, most important first.

Respond with ONLY a JSON array:
[{"name": "...", "description": "...", "keywords": ["..."], "article_ids": ["..."], "importance_score": 0.0}]`

// TopicClusterer asks a Provider to group items into named, ranked
// topic clusters. It is the injected clustering capability consumed by
// the digest orchestrator.
type TopicClusterer struct {
	provider Provider
}

// NewTopicClusterer wraps a Provider.
func NewTopicClusterer(p Provider) *TopicClusterer {
	return &TopicClusterer{provider: p}
}

// ClusterTopics groups items into at most maxClusters topics ordered by
// importance. IDs the model invents that match no input item are
// dropped. The caller owns the timeout via ctx.
func (c *TopicClusterer) ClusterTopics(ctx context.Context, domainName string, items []domain.ContentItem, maxClusters int) ([]domain.TopicCluster, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if maxClusters <= 0 {
		maxClusters = 5
	}

	type entry struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Source string `json:"source"`
	}
	known := make(map[string]struct{}, len(items))
	entries := make([]entry, 0, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
		entries = append(entries, entry{ID: it.ID, Title: it.Title, Source: it.Source})
	}
	articlesJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal articles: %w", err)
	}

	resp, err := c.provider.Complete(ctx, Request{
		System:      clusterSystemPrompt,
		Prompt:      fmt.Sprintf(clusterPromptTemplate, len(items), maxClusters, articlesJSON, domainName),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("ai: cluster topics: %w", err)
	}

	var raw []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Keywords    []string `json:"keywords"`
		ArticleIDs  []string `json:"article_ids"`
		Importance  float64  `json:"importance_score"`
	}
	if err := json.Unmarshal([]byte(StripFences(resp)), &raw); err != nil {
		return nil, fmt.Errorf("ai: parse clusters: %w", err)
	}

	clusters := make([]domain.TopicCluster, 0, len(raw))
	for _, rc := range raw {
		ids := make([]string, 0, len(rc.ArticleIDs))
		for _, id := range rc.ArticleIDs {
			if _, ok := known[id]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			name = "Untitled topic"
		}
		clusters = append(clusters, domain.TopicCluster{
			Name:        name,
			Description: strings.TrimSpace(rc.Description),
			Keywords:    rc.Keywords,
			ItemIDs:     ids,
			Importance:  clampUnit(rc.Importance),
		})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Importance > clusters[j].Importance
	})
	return clusters, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
