package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulsefeed/pulsefeed/internal/ai"
	"github.com/pulsefeed/pulsefeed/internal/domain"
)

// Classifier decides whether one item is relevant enough to surface.
type Classifier interface {
	Classify(ctx context.Context, item domain.ContentItem) (domain.TriageVerdict, error)
}

const classifierSystem = `You are a content triage filter. Given one content item,
decide whether it is relevant and substantial enough to show in a professional
news feed for its domain. Reject advertisements, duplicates of well-known
stories, and content-free teasers. Respond with strict JSON only:
{"decision": "pass" | "reject", "confidence": <0..1>, "reason": "<one sentence>"}`

// ProviderClassifier classifies items via a chat-completion provider.
type ProviderClassifier struct {
	provider ai.Provider
}

var _ Classifier = (*ProviderClassifier)(nil)

// NewProviderClassifier wraps provider as a Classifier.
func NewProviderClassifier(provider ai.Provider) *ProviderClassifier {
	return &ProviderClassifier{provider: provider}
}

// Classify asks the provider for a verdict and parses its JSON reply.
func (c *ProviderClassifier) Classify(ctx context.Context, item domain.ContentItem) (domain.TriageVerdict, error) {
	prompt := fmt.Sprintf("Domain: %s\nSource: %s\nTitle: %s\nAbstract: %s",
		item.Domain, item.Source, item.Title, item.Abstract)

	raw, err := c.provider.Complete(ctx, ai.Request{
		System:    classifierSystem,
		Prompt:    prompt,
		MaxTokens: 200,
	})
	if err != nil {
		return domain.TriageVerdict{}, err
	}

	var parsed struct {
		Decision   string  `json:"decision"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(ai.StripFences(raw)), &parsed); err != nil {
		return domain.TriageVerdict{}, fmt.Errorf("triage: parse verdict: %w", err)
	}

	var status domain.TriageStatus
	switch strings.ToLower(parsed.Decision) {
	case "pass":
		status = domain.TriagePassed
	case "reject":
		status = domain.TriageRejected
	default:
		return domain.TriageVerdict{}, fmt.Errorf("triage: unknown decision %q", parsed.Decision)
	}

	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return domain.TriageVerdict{
		Status:     status,
		Confidence: &conf,
		Reason:     parsed.Reason,
		Model:      c.provider.Model(),
	}, nil
}

// Result pairs an item with its verdict. Fallback is true when the
// classifier failed and the verdict is the fail-open default.
type Result struct {
	Item     domain.ContentItem
	Verdict  domain.TriageVerdict
	Fallback bool
}

// Triager runs a Classifier with a per-item timeout and fail-open
// semantics: a classifier error or timeout never blocks an item from
// the feed.
type Triager struct {
	classifier  Classifier
	timeout     time.Duration
	parallelism int
	log         *slog.Logger
	now         func() time.Time
}

// New builds a Triager. parallelism caps concurrent classifier calls in
// a batch; values below 1 are treated as 1.
func New(classifier Classifier, timeout time.Duration, parallelism int, log *slog.Logger) *Triager {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Triager{
		classifier:  classifier,
		timeout:     timeout,
		parallelism: parallelism,
		log:         log,
		now:         time.Now,
	}
}

// One classifies a single item. The returned Result always carries a
// terminal verdict: on classifier failure the item passes with no
// confidence and a reason recording the error.
func (t *Triager) One(ctx context.Context, item domain.ContentItem) Result {
	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	verdict, err := t.classifier.Classify(cctx, item)
	if err != nil {
		t.log.Warn("triage: classify failed, passing item through",
			"item", item.ID, "error", err)
		return Result{
			Item: item,
			Verdict: domain.TriageVerdict{
				Status:    domain.TriagePassed,
				Reason:    fmt.Sprintf("triage error (auto-passed): %v", err),
				TriagedAt: t.now(),
			},
			Fallback: true,
		}
	}
	verdict.TriagedAt = t.now()
	return Result{Item: item, Verdict: verdict}
}

// Batch classifies items concurrently, at most parallelism in flight.
// Results are returned in input order, one per item; individual
// failures fall open rather than failing the batch.
func (t *Triager) Batch(ctx context.Context, items []domain.ContentItem) []Result {
	results := make([]Result, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = t.One(gctx, item)
			return nil
		})
	}
	// One never returns an error; Wait only propagates ctx cancellation.
	_ = g.Wait()
	return results
}
