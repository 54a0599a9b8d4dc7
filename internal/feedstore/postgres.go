package feedstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// psql builds queries with Postgres $N placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres is the durable Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("feedstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("feedstore: apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) UpsertItem(ctx context.Context, item domain.ContentItem) (bool, error) {
	// xmax = 0 only for freshly inserted rows; conflicting upserts keep
	// the existing verdict and score columns.
	const q = `INSERT INTO items
	        (id, domain, title, abstract, source, url, published_at, ingested_at, validated_source)
	    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	    ON CONFLICT (id) DO UPDATE SET
	        domain = EXCLUDED.domain,
	        title = EXCLUDED.title,
	        abstract = EXCLUDED.abstract,
	        source = EXCLUDED.source,
	        url = EXCLUDED.url,
	        published_at = EXCLUDED.published_at,
	        validated_source = EXCLUDED.validated_source
	    RETURNING (xmax = 0)`

	var created bool
	err := p.pool.QueryRow(ctx, q,
		item.ID, item.Domain, item.Title, item.Abstract, item.Source, item.URL,
		item.PublishedAt, item.IngestedAt, item.ValidatedSource,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("feedstore: upsert item: %w", err)
	}
	return created, nil
}

// itemColumns is the select list every item read uses, in scanItem order.
var itemColumns = []string{
	"id", "domain", "title", "abstract", "source", "url",
	"published_at", "ingested_at", "validated_source",
	"triage_status", "triage_confidence", "triage_reason", "triage_model", "triaged_at",
	"freshness_score", "is_breaking", "breaking_score", "breaking_keywords", "recomputed_at",
}

func scanItem(row pgx.Row) (domain.FeedItem, error) {
	var it domain.FeedItem
	var triagedAt, recomputedAt *time.Time
	err := row.Scan(
		&it.ID, &it.Domain, &it.Title, &it.Abstract, &it.Source, &it.URL,
		&it.PublishedAt, &it.IngestedAt, &it.ValidatedSource,
		&it.Verdict.Status, &it.Verdict.Confidence, &it.Verdict.Reason, &it.Verdict.Model, &triagedAt,
		&it.Score.Freshness, &it.Score.Breaking, &it.Score.BreakingScore, &it.Score.BreakingKeywords, &recomputedAt,
	)
	if err != nil {
		return domain.FeedItem{}, err
	}
	if triagedAt != nil {
		it.Verdict.TriagedAt = *triagedAt
	}
	if recomputedAt != nil {
		it.Score.RecomputedAt = *recomputedAt
	}
	return it, nil
}

func (p *Postgres) GetItem(ctx context.Context, id string) (domain.FeedItem, error) {
	query, args, err := psql.Select(itemColumns...).From("items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.FeedItem{}, fmt.Errorf("feedstore: build query: %w", err)
	}
	it, err := scanItem(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedItem{}, ErrNotFound
	}
	if err != nil {
		return domain.FeedItem{}, fmt.Errorf("feedstore: get item: %w", err)
	}
	return it, nil
}

func (p *Postgres) ListItems(ctx context.Context, q ItemQuery) ([]domain.FeedItem, error) {
	b := psql.Select(itemColumns...).From("items").
		OrderBy("is_breaking DESC", "breaking_score DESC", "freshness_score DESC", "ingested_at DESC")

	if q.Domain != "" {
		b = b.Where(sq.Eq{"domain": q.Domain})
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		b = b.Where(sq.Eq{"triage_status": statuses})
	}
	if !q.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"ingested_at": q.Since})
	}
	if q.ValidatedOnly {
		b = b.Where(sq.Eq{"validated_source": true})
	}
	if q.BreakingOnly {
		b = b.Where(sq.Eq{"is_breaking": true})
	}
	if q.MinTriageScore > 0 {
		b = b.Where(sq.Or{
			sq.GtOrEq{"triage_confidence": q.MinTriageScore},
			sq.Eq{"triage_confidence": nil},
		})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("feedstore: build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feedstore: list items: %w", err)
	}
	defer rows.Close()

	var out []domain.FeedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("feedstore: scan item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedstore: rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListPendingTriage(ctx context.Context, limit int) ([]domain.ContentItem, error) {
	b := psql.Select("id", "domain", "title", "abstract", "source", "url",
		"published_at", "ingested_at", "validated_source").
		From("items").
		Where(sq.Eq{"triage_status": string(domain.TriagePending)}).
		OrderBy("ingested_at ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("feedstore: build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feedstore: list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentItem
	for rows.Next() {
		var it domain.ContentItem
		if err := rows.Scan(&it.ID, &it.Domain, &it.Title, &it.Abstract, &it.Source,
			&it.URL, &it.PublishedAt, &it.IngestedAt, &it.ValidatedSource); err != nil {
			return nil, fmt.Errorf("feedstore: scan pending: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateScore(ctx context.Context, id string, s domain.ScoreState) error {
	query, args, err := psql.Update("items").
		Set("freshness_score", s.Freshness).
		Set("is_breaking", s.Breaking).
		Set("breaking_score", s.BreakingScore).
		Set("breaking_keywords", s.BreakingKeywords).
		Set("recomputed_at", s.RecomputedAt).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build update: %w", err)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("feedstore: update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetVerdict(ctx context.Context, id string, v domain.TriageVerdict) error {
	query, args, err := psql.Update("items").
		Set("triage_status", string(v.Status)).
		Set("triage_confidence", v.Confidence).
		Set("triage_reason", v.Reason).
		Set("triage_model", v.Model).
		Set("triaged_at", v.TriagedAt).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build update: %w", err)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("feedstore: set verdict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- schedules --------------------------------------------------------------

func (p *Postgres) CreateSchedule(ctx context.Context, sc domain.ScheduleConfig) error {
	query, args, err := psql.Insert("schedules").
		Columns("id", "domain", "name", "cron_expression", "timezone", "active",
			"lookback_hours", "max_items", "top_picks_count", "cluster_topics",
			"min_triage_score", "only_passed_triage", "ai_provider", "ai_model",
			"last_run_at", "next_run_at", "run_count", "last_error", "created_at", "updated_at").
		Values(sc.ID, sc.Domain, sc.Name, sc.CronExpr, sc.Timezone, sc.Active,
			sc.LookbackHours, sc.MaxItems, sc.TopPicks, sc.ClusterTopics,
			sc.MinTriageScore, sc.OnlyPassedTriage, sc.AIProvider, sc.AIModel,
			sc.LastRunAt, sc.NextRunAt, sc.RunCount, sc.LastError, sc.CreatedAt, sc.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build insert: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("feedstore: create schedule: %w", err)
	}
	return nil
}

var scheduleColumns = []string{
	"id", "domain", "name", "cron_expression", "timezone", "active",
	"lookback_hours", "max_items", "top_picks_count", "cluster_topics",
	"min_triage_score", "only_passed_triage", "ai_provider", "ai_model",
	"last_run_at", "next_run_at", "run_count", "last_error", "created_at", "updated_at",
}

func scanSchedule(row pgx.Row) (domain.ScheduleConfig, error) {
	var sc domain.ScheduleConfig
	err := row.Scan(&sc.ID, &sc.Domain, &sc.Name, &sc.CronExpr, &sc.Timezone, &sc.Active,
		&sc.LookbackHours, &sc.MaxItems, &sc.TopPicks, &sc.ClusterTopics,
		&sc.MinTriageScore, &sc.OnlyPassedTriage, &sc.AIProvider, &sc.AIModel,
		&sc.LastRunAt, &sc.NextRunAt, &sc.RunCount, &sc.LastError, &sc.CreatedAt, &sc.UpdatedAt)
	return sc, err
}

func (p *Postgres) GetSchedule(ctx context.Context, id string) (domain.ScheduleConfig, error) {
	query, args, err := psql.Select(scheduleColumns...).From("schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.ScheduleConfig{}, fmt.Errorf("feedstore: build query: %w", err)
	}
	sc, err := scanSchedule(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduleConfig{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduleConfig{}, fmt.Errorf("feedstore: get schedule: %w", err)
	}
	return sc, nil
}

func (p *Postgres) ListSchedules(ctx context.Context, activeOnly bool) ([]domain.ScheduleConfig, error) {
	b := psql.Select(scheduleColumns...).From("schedules").OrderBy("created_at ASC")
	if activeOnly {
		b = b.Where(sq.Eq{"active": true})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("feedstore: build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feedstore: list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduleConfig
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("feedstore: scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateSchedule(ctx context.Context, sc domain.ScheduleConfig) error {
	query, args, err := psql.Update("schedules").
		Set("domain", sc.Domain).
		Set("name", sc.Name).
		Set("cron_expression", sc.CronExpr).
		Set("timezone", sc.Timezone).
		Set("active", sc.Active).
		Set("lookback_hours", sc.LookbackHours).
		Set("max_items", sc.MaxItems).
		Set("top_picks_count", sc.TopPicks).
		Set("cluster_topics", sc.ClusterTopics).
		Set("min_triage_score", sc.MinTriageScore).
		Set("only_passed_triage", sc.OnlyPassedTriage).
		Set("ai_provider", sc.AIProvider).
		Set("ai_model", sc.AIModel).
		Set("last_run_at", sc.LastRunAt).
		Set("next_run_at", sc.NextRunAt).
		Set("run_count", sc.RunCount).
		Set("last_error", sc.LastError).
		Set("updated_at", sc.UpdatedAt).
		Where(sq.Eq{"id": sc.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build update: %w", err)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("feedstore: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteSchedule(ctx context.Context, id string) error {
	query, args, err := psql.Delete("schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build delete: %w", err)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("feedstore: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- runs -------------------------------------------------------------------

func (p *Postgres) AppendRun(ctx context.Context, run domain.ScheduledRun) error {
	query, args, err := psql.Insert("scheduled_runs").
		Columns("id", "schedule_id", "digest_id", "items_considered", "items_included",
			"clusters_formed", "triggered_at", "completed_at", "duration_ns", "status", "error").
		Values(run.ID, run.ScheduleID, run.DigestID, run.ItemsConsidered, run.ItemsIncluded,
			run.ClustersFormed, run.TriggeredAt, run.CompletedAt, run.Duration.Nanoseconds(),
			string(run.Status), run.Error).
		ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build insert: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		// The partial unique index on (schedule_id) WHERE status='running'
		// turns a concurrent second trigger into a conflict.
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("feedstore: append run: %w", err)
	}
	return nil
}

func (p *Postgres) CompleteRun(ctx context.Context, run domain.ScheduledRun) error {
	query, args, err := psql.Update("scheduled_runs").
		Set("digest_id", run.DigestID).
		Set("items_considered", run.ItemsConsidered).
		Set("items_included", run.ItemsIncluded).
		Set("clusters_formed", run.ClustersFormed).
		Set("completed_at", run.CompletedAt).
		Set("duration_ns", run.Duration.Nanoseconds()).
		Set("status", string(run.Status)).
		Set("error", run.Error).
		Where(sq.Eq{"id": run.ID, "status": string(domain.RunRunning)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build update: %w", err)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("feedstore: complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the run does not exist or it is already terminal.
		return ErrConflict
	}
	return nil
}

var runColumns = []string{
	"id", "schedule_id", "digest_id", "items_considered", "items_included",
	"clusters_formed", "triggered_at", "completed_at", "duration_ns", "status", "error",
}

func scanRun(row pgx.Row) (domain.ScheduledRun, error) {
	var r domain.ScheduledRun
	var durationNS int64
	err := row.Scan(&r.ID, &r.ScheduleID, &r.DigestID, &r.ItemsConsidered, &r.ItemsIncluded,
		&r.ClustersFormed, &r.TriggeredAt, &r.CompletedAt, &durationNS, &r.Status, &r.Error)
	r.Duration = time.Duration(durationNS)
	return r, err
}

func (p *Postgres) ActiveRun(ctx context.Context, scheduleID string) (*domain.ScheduledRun, error) {
	query, args, err := psql.Select(runColumns...).From("scheduled_runs").
		Where(sq.Eq{"schedule_id": scheduleID, "status": string(domain.RunRunning)}).
		Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("feedstore: build query: %w", err)
	}
	r, err := scanRun(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedstore: active run: %w", err)
	}
	return &r, nil
}

func (p *Postgres) ListRuns(ctx context.Context, scheduleID string, limit int) ([]domain.ScheduledRun, error) {
	b := psql.Select(runColumns...).From("scheduled_runs").
		Where(sq.Eq{"schedule_id": scheduleID}).
		OrderBy("triggered_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("feedstore: build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feedstore: list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("feedstore: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- digests ----------------------------------------------------------------

func (p *Postgres) SaveDigest(ctx context.Context, d domain.Digest) error {
	clusters, err := json.Marshal(d.Clusters)
	if err != nil {
		return fmt.Errorf("feedstore: marshal clusters: %w", err)
	}
	query, args, err := psql.Insert("digests").
		Columns("id", "name", "domain", "item_ids", "top_picks", "clusters",
			"ai_provider", "ai_model", "created_at").
		Values(d.ID, d.Name, d.Domain, d.ItemIDs, d.TopPicks, clusters,
			d.Provider, d.Model, d.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("feedstore: build insert: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("feedstore: save digest: %w", err)
	}
	return nil
}

func (p *Postgres) GetDigest(ctx context.Context, id string) (domain.Digest, error) {
	query, args, err := psql.Select("id", "name", "domain", "item_ids", "top_picks",
		"clusters", "ai_provider", "ai_model", "created_at").
		From("digests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Digest{}, fmt.Errorf("feedstore: build query: %w", err)
	}

	var d domain.Digest
	var clusters []byte
	err = p.pool.QueryRow(ctx, query, args...).Scan(
		&d.ID, &d.Name, &d.Domain, &d.ItemIDs, &d.TopPicks, &clusters,
		&d.Provider, &d.Model, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Digest{}, ErrNotFound
	}
	if err != nil {
		return domain.Digest{}, fmt.Errorf("feedstore: get digest: %w", err)
	}
	if len(clusters) > 0 {
		if err := json.Unmarshal(clusters, &d.Clusters); err != nil {
			return domain.Digest{}, fmt.Errorf("feedstore: unmarshal clusters: %w", err)
		}
	}
	return d, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
