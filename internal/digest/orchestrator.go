package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/feedstore"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
)

// DefaultClusterTimeout bounds one clustering call.
const DefaultClusterTimeout = 60 * time.Second

// Clusterer groups items into named, ranked topics. ai.TopicClusterer
// implements it.
type Clusterer interface {
	ClusterTopics(ctx context.Context, domainName string, items []domain.ContentItem, maxClusters int) ([]domain.TopicCluster, error)
}

// Composer titles a digest. ai.DigestComposer implements it.
type Composer interface {
	ComposeTitle(ctx context.Context, domainName string, clusters []domain.TopicCluster, items []domain.FeedItem) (string, error)
}

// Orchestrator turns one triggered run into a persisted digest:
// selection, optional clustering, top picks, title, completion. Every
// path out completes the run with a terminal status — a crash-free
// execution never leaves a run stuck running.
type Orchestrator struct {
	store          feedstore.Store
	clusterer      Clusterer
	composer       Composer
	clusterTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time
}

// New builds an Orchestrator. clusterer and composer may be nil; the
// digest then degrades to a flat, schedule-named selection.
func New(st feedstore.Store, clusterer Clusterer, composer Composer, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:          st,
		clusterer:      clusterer,
		composer:       composer,
		clusterTimeout: DefaultClusterTimeout,
		log:            log,
		now:            time.Now,
	}
}

// Execute generates the digest for one run. It is the schedule engine's
// Executor.
func (o *Orchestrator) Execute(ctx context.Context, sc domain.ScheduleConfig, run domain.ScheduledRun) {
	items, err := o.selectItems(ctx, sc)
	if err != nil {
		o.fail(ctx, sc, run, fmt.Errorf("select items: %w", err))
		return
	}
	run.ItemsConsidered = len(items)

	if len(items) == 0 {
		o.log.Info("digest: nothing to include", "schedule", sc.ID)
		o.succeed(ctx, sc, run, nil)
		return
	}

	// Clustering is best-effort: a provider failure degrades the digest
	// to a flat list instead of failing the run.
	var clusters []domain.TopicCluster
	if sc.ClusterTopics && o.clusterer != nil {
		cctx, cancel := context.WithTimeout(ctx, o.clusterTimeout)
		clusters, err = o.clusterer.ClusterTopics(cctx, sc.Domain, contentOf(items), maxClusters(sc))
		cancel()
		if err != nil {
			o.log.Warn("digest: clustering failed, using flat list",
				"schedule", sc.ID, "error", err)
			clusters = nil
		}
	}
	run.ClustersFormed = len(clusters)

	// The clusterer decides membership: items it left out of every topic
	// are considered but not included. A flat digest includes everything
	// selected.
	included := items
	if len(clusters) > 0 {
		included = clusterMembers(items, clusters)
	}

	topPicks := pickTop(included, clusters, sc.TopPicks)
	for i := range clusters {
		clusters[i].TopPick = i < sc.TopPicks
	}

	d := domain.Digest{
		ID:        uuid.NewString(),
		Name:      o.title(ctx, sc, clusters, included),
		Domain:    sc.Domain,
		ItemIDs:   idsOf(included),
		TopPicks:  topPicks,
		Clusters:  clusters,
		Provider:  sc.AIProvider,
		Model:     sc.AIModel,
		CreatedAt: o.now(),
	}
	if err := o.store.SaveDigest(ctx, d); err != nil {
		o.fail(ctx, sc, run, fmt.Errorf("save digest: %w", err))
		return
	}

	run.DigestID = &d.ID
	run.ItemsIncluded = len(d.ItemIDs)
	o.succeed(ctx, sc, run, &d)
}

// selectItems applies the schedule's selection policy.
func (o *Orchestrator) selectItems(ctx context.Context, sc domain.ScheduleConfig) ([]domain.FeedItem, error) {
	statuses := []domain.TriageStatus{domain.TriagePassed}
	if !sc.OnlyPassedTriage {
		statuses = append(statuses, domain.TriagePending)
	}
	return o.store.ListItems(ctx, feedstore.ItemQuery{
		Domain:         sc.Domain,
		Statuses:       statuses,
		Since:          o.now().Add(-time.Duration(sc.LookbackHours) * time.Hour),
		MinTriageScore: sc.MinTriageScore,
		Limit:          sc.MaxItems,
	})
}

// title asks the composer for a name, falling back to a dated schedule
// name when composition is unavailable or fails.
func (o *Orchestrator) title(ctx context.Context, sc domain.ScheduleConfig, clusters []domain.TopicCluster, items []domain.FeedItem) string {
	if o.composer != nil {
		cctx, cancel := context.WithTimeout(ctx, o.clusterTimeout)
		defer cancel()
		t, err := o.composer.ComposeTitle(cctx, sc.Domain, clusters, items)
		if err == nil {
			return t
		}
		o.log.Warn("digest: title composition failed", "schedule", sc.ID, "error", err)
	}
	return fmt.Sprintf("%s — %s", sc.Name, o.now().Format("2006-01-02"))
}

// pickTop selects up to n top-pick item IDs: the lead item of each of
// the most important clusters, or the feed-order head when unclustered.
func pickTop(items []domain.FeedItem, clusters []domain.TopicCluster, n int) []string {
	if n <= 0 {
		return nil
	}
	var picks []string
	if len(clusters) > 0 {
		for _, cl := range clusters {
			if len(picks) == n {
				break
			}
			if len(cl.ItemIDs) > 0 {
				picks = append(picks, cl.ItemIDs[0])
			}
		}
		return picks
	}
	for i := 0; i < len(items) && i < n; i++ {
		picks = append(picks, items[i].ID)
	}
	return picks
}

func (o *Orchestrator) succeed(ctx context.Context, sc domain.ScheduleConfig, run domain.ScheduledRun, d *domain.Digest) {
	now := o.now()
	run.Status = domain.RunSucceeded
	run.CompletedAt = &now
	run.Duration = now.Sub(run.TriggeredAt)
	if err := o.store.CompleteRun(ctx, run); err != nil {
		o.log.Error("digest: complete run failed", "run", run.ID, "error", err)
	}
	metrics.ScheduledRuns.WithLabelValues(string(domain.RunSucceeded)).Inc()
	o.clearError(ctx, sc)

	if d != nil {
		o.log.Info("digest: generated", "schedule", sc.ID, "digest", d.ID,
			"items", run.ItemsIncluded, "clusters", run.ClustersFormed)
	}
}

// fail completes the run as failed and records the error on the
// schedule. Selection failures still terminate the run; nothing is
// left running.
func (o *Orchestrator) fail(ctx context.Context, sc domain.ScheduleConfig, run domain.ScheduledRun, cause error) {
	o.log.Error("digest: run failed", "schedule", sc.ID, "run", run.ID, "error", cause)

	now := o.now()
	run.Status = domain.RunFailed
	run.CompletedAt = &now
	run.Duration = now.Sub(run.TriggeredAt)
	run.Error = cause.Error()
	if err := o.store.CompleteRun(ctx, run); err != nil {
		o.log.Error("digest: complete run failed", "run", run.ID, "error", err)
	}
	metrics.ScheduledRuns.WithLabelValues(string(domain.RunFailed)).Inc()

	if current, err := o.store.GetSchedule(ctx, sc.ID); err == nil {
		current.LastError = cause.Error()
		current.UpdatedAt = now
		if err := o.store.UpdateSchedule(ctx, current); err != nil {
			o.log.Error("digest: record last_error failed", "schedule", sc.ID, "error", err)
		}
	}
}

func (o *Orchestrator) clearError(ctx context.Context, sc domain.ScheduleConfig) {
	current, err := o.store.GetSchedule(ctx, sc.ID)
	if err != nil || current.LastError == "" {
		return
	}
	current.LastError = ""
	current.UpdatedAt = o.now()
	if err := o.store.UpdateSchedule(ctx, current); err != nil {
		o.log.Error("digest: clear last_error failed", "schedule", sc.ID, "error", err)
	}
}

// clusterMembers filters items to those assigned to at least one topic,
// preserving feed order.
func clusterMembers(items []domain.FeedItem, clusters []domain.TopicCluster) []domain.FeedItem {
	member := make(map[string]struct{})
	for _, cl := range clusters {
		for _, id := range cl.ItemIDs {
			member[id] = struct{}{}
		}
	}
	out := make([]domain.FeedItem, 0, len(member))
	for _, it := range items {
		if _, ok := member[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out
}

func contentOf(items []domain.FeedItem) []domain.ContentItem {
	out := make([]domain.ContentItem, len(items))
	for i, it := range items {
		out[i] = it.ContentItem
	}
	return out
}

func idsOf(items []domain.FeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// maxClusters bounds how many topics the clusterer may form; a digest
// never needs more topics than items or a handful beyond its top picks.
func maxClusters(sc domain.ScheduleConfig) int {
	n := sc.TopPicks + 2
	if n < 3 {
		n = 3
	}
	return n
}
