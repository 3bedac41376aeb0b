// Package orchestrator drives one ingestion run: probe the API, plan the
// missing (club, source) pairs from the ledger, fetch and persist them,
// and report every outcome back so the ledger converges on complete.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/catalog"
	"github.com/mlsdata/transfermkt-ingest/internal/clock"
	"github.com/mlsdata/transfermkt-ingest/internal/clock/system"
	"github.com/mlsdata/transfermkt-ingest/internal/history"
	"github.com/mlsdata/transfermkt-ingest/internal/metrics"
	"github.com/mlsdata/transfermkt-ingest/internal/scrape"
	"github.com/mlsdata/transfermkt-ingest/internal/storage"
	"github.com/mlsdata/transfermkt-ingest/internal/watermark"
)

// Run outcomes.
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeNothing  = "nothing"
)

// EventRunCompleted is the event kind published after every run.
const EventRunCompleted = "ingest.run.completed"

// Fetcher reads one endpoint from the upstream API. A nil payload with a
// nil error means the read failed in an ordinary way and was already
// logged; errors are reserved for cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) ([]byte, error)
	Probe(ctx context.Context) error
}

// TableScraper fetches the league standings from the website.
type TableScraper interface {
	LeagueTable(ctx context.Context) ([]scrape.TableRow, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunRecorder persists one row per run for operator visibility.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec history.RunRecord) error
}

// Config wires a Runner's collaborators. Publisher and History are
// optional; a missing one is skipped.
type Config struct {
	Store   storage.ObjectStore
	Catalog *catalog.Catalog
	Ledger  *watermark.Manager
	// NewFetcher builds one client per worker so each worker paces its
	// own requests.
	NewFetcher func() Fetcher
	Scraper    TableScraper
	Publisher  Publisher
	History    RunRecorder
	Clock      clock.Clock
	Logger     *zap.Logger
	Workers    int
	RawPrefix  string
}

// RunStatus summarizes one run. It doubles as the published event payload.
type RunStatus struct {
	RunID          uuid.UUID `json:"run_id"`
	RunDate        string    `json:"run_date"`
	Outcome        string    `json:"outcome"`
	ItemsPlanned   int       `json:"items_planned"`
	ItemsSucceeded int       `json:"items_succeeded"`
	ItemsFailed    int       `json:"items_failed"`
	MissingAfter   int       `json:"missing_after"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Runner executes ingestion runs.
type Runner struct {
	store      storage.ObjectStore
	catalog    *catalog.Catalog
	ledger     *watermark.Manager
	newFetcher func() Fetcher
	scraper    TableScraper
	publisher  Publisher
	hist       RunRecorder
	clock      clock.Clock
	logger     *zap.Logger
	workers    int
	rawPrefix  string
}

// NewRunner constructs a Runner.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	rawPrefix := cfg.RawPrefix
	if rawPrefix == "" {
		rawPrefix = "raw_data"
	}
	return &Runner{
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		ledger:     cfg.Ledger,
		newFetcher: cfg.NewFetcher,
		scraper:    cfg.Scraper,
		publisher:  cfg.Publisher,
		hist:       cfg.History,
		clock:      clk,
		logger:     logger,
		workers:    workers,
		rawPrefix:  rawPrefix,
	}
}

// sourceTask groups every club still missing one source, so each source
// document is written by exactly one worker.
type sourceTask struct {
	source   catalog.Source
	entities []string
}

type itemOutcome struct {
	entityID  string
	source    string
	succeeded bool
	records   *int
}

// Run executes one ingestion run for date. A failed API probe aborts
// before the ledger is touched. Individual item failures are recorded and
// the batch continues; Run errors only on cancellation or when the ledger
// itself cannot be read or written.
func (r *Runner) Run(ctx context.Context, date string, force bool) (*RunStatus, error) {
	status := &RunStatus{
		RunID:     uuid.New(),
		RunDate:   date,
		StartedAt: r.clock.Now().UTC(),
	}
	r.logger.Info("starting ingestion run",
		zap.String("run_id", status.RunID.String()),
		zap.String("run_date", date),
		zap.Bool("force", force))

	if err := r.newFetcher().Probe(ctx); err != nil {
		return nil, fmt.Errorf("api connectivity check failed: %w", err)
	}

	if force {
		if _, err := r.ledger.BuildOrRefresh(ctx, date, true); err != nil {
			return nil, fmt.Errorf("force refresh ledger: %w", err)
		}
	}
	missing, err := r.ledger.MissingByEntity(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("plan run: %w", err)
	}

	tasks := r.plan(missing)
	for _, t := range tasks {
		status.ItemsPlanned += len(t.entities)
	}
	if status.ItemsPlanned == 0 {
		r.logger.Info("nothing to fetch, ledger already complete", zap.String("run_date", date))
		status.Outcome = OutcomeComplete
		status.FinishedAt = r.clock.Now().UTC()
		r.finish(ctx, status)
		return status, nil
	}

	r.execute(ctx, date, tasks, status)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("run canceled: %w", ctx.Err())
	}

	after, err := r.ledger.MissingByEntity(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("recount missing items: %w", err)
	}
	for _, sources := range after {
		status.MissingAfter += len(sources)
	}

	// The ledger is the source of truth for completeness: a fetch can
	// succeed and still leave its row missing when the ledger write fails.
	switch {
	case status.MissingAfter == 0:
		status.Outcome = OutcomeComplete
	case status.ItemsSucceeded > 0:
		status.Outcome = OutcomePartial
	default:
		status.Outcome = OutcomeNothing
	}
	status.FinishedAt = r.clock.Now().UTC()

	r.logger.Info("ingestion run finished",
		zap.String("run_id", status.RunID.String()),
		zap.String("outcome", status.Outcome),
		zap.Int("planned", status.ItemsPlanned),
		zap.Int("succeeded", status.ItemsSucceeded),
		zap.Int("failed", status.ItemsFailed),
		zap.Int("missing_after", status.MissingAfter))

	r.finish(ctx, status)
	return status, nil
}

// plan regroups the per-club missing map into per-source tasks, in
// catalog order.
func (r *Runner) plan(missing map[string][]string) []sourceTask {
	bySource := make(map[string][]string)
	for entityID, sources := range missing {
		for _, name := range sources {
			bySource[name] = append(bySource[name], entityID)
		}
	}

	var tasks []sourceTask
	for _, src := range r.catalog.Sources() {
		entities, ok := bySource[src.Name]
		if !ok {
			continue
		}
		tasks = append(tasks, sourceTask{source: src, entities: entities})
	}
	return tasks
}

// execute fans the tasks out over the worker pool. Outcomes funnel
// through a single collector so the ledger sees strictly serial updates.
func (r *Runner) execute(ctx context.Context, date string, tasks []sourceTask, status *RunStatus) {
	outcomes := make(chan itemOutcome)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for o := range outcomes {
			if err := r.ledger.ReportOutcome(ctx, date, o.entityID, o.source, o.succeeded, o.records); err != nil {
				r.logger.Error("recording outcome failed",
					zap.String("entity_id", o.entityID),
					zap.String("source", o.source),
					zap.Error(err))
			}
			if o.succeeded {
				status.ItemsSucceeded++
			} else {
				status.ItemsFailed++
			}
		}
	}()

	taskCh := make(chan sourceTask)
	var wg sync.WaitGroup
	workers := r.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := r.newFetcher()
			for task := range taskCh {
				r.runTask(ctx, client, date, task, outcomes)
			}
		}()
	}

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			close(taskCh)
			wg.Wait()
			close(outcomes)
			<-collectorDone
			return
		case taskCh <- task:
		}
	}
	close(taskCh)
	wg.Wait()
	close(outcomes)
	<-collectorDone
}

func (r *Runner) runTask(ctx context.Context, client Fetcher, date string, task sourceTask, out chan<- itemOutcome) {
	switch {
	case task.source.Scraped:
		r.runScraped(ctx, date, task, out)
	case task.source.CompetitionWide:
		r.runCompetitionWide(ctx, client, date, task, out)
	default:
		r.runPerClub(ctx, client, date, task, out)
	}
}

// runScraped fetches the standings pages and persists them as one JSON
// document.
func (r *Runner) runScraped(ctx context.Context, date string, task sourceTask, out chan<- itemOutcome) {
	fail := func() {
		for _, entityID := range task.entities {
			out <- itemOutcome{entityID: entityID, source: task.source.Name}
		}
	}

	if r.scraper == nil {
		r.logger.Warn("no scraper configured, skipping source", zap.String("source", task.source.Name))
		fail()
		return
	}
	rows, err := r.scraper.LeagueTable(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("scraping standings failed", zap.Error(err))
		fail()
		return
	}

	payload, err := json.Marshal(map[string]any{"data": rows})
	if err != nil {
		r.logger.Error("encoding standings failed", zap.Error(err))
		fail()
		return
	}
	if err := r.persist(ctx, task.source.Key(r.rawPrefix, date), payload); err != nil {
		fail()
		return
	}
	records := len(rows)
	for _, entityID := range task.entities {
		out <- itemOutcome{entityID: entityID, source: task.source.Name, succeeded: true, records: &records}
	}
}

// runCompetitionWide performs a single fetch covering every club, then
// verifies each club against the persisted document.
func (r *Runner) runCompetitionWide(ctx context.Context, client Fetcher, date string, task sourceTask, out chan<- itemOutcome) {
	payload, err := client.Fetch(ctx, task.source.Endpoint(""))
	if err != nil {
		return
	}
	if payload == nil {
		for _, entityID := range task.entities {
			out <- itemOutcome{entityID: entityID, source: task.source.Name}
		}
		return
	}
	if err := r.persist(ctx, task.source.Key(r.rawPrefix, date), payload); err != nil {
		for _, entityID := range task.entities {
			out <- itemOutcome{entityID: entityID, source: task.source.Name}
		}
		return
	}

	for _, entityID := range task.entities {
		match := task.source.MatchEntity(payload, entityID)
		o := itemOutcome{entityID: entityID, source: task.source.Name, succeeded: match.Found}
		if match.Found {
			records := match.Records
			o.records = &records
		}
		out <- o
	}
}

// runPerClub fetches each club's slice of the source and merges it into
// the source's document, persisting after every merge so progress
// survives a mid-batch failure.
func (r *Runner) runPerClub(ctx context.Context, client Fetcher, date string, task sourceTask, out chan<- itemOutcome) {
	key := task.source.Key(r.rawPrefix, date)
	doc := r.loadDocument(ctx, task.source, date)

	for _, entityID := range task.entities {
		if ctx.Err() != nil {
			return
		}
		payload, err := client.Fetch(ctx, task.source.Endpoint(entityID))
		if err != nil {
			return
		}
		if payload == nil {
			out <- itemOutcome{entityID: entityID, source: task.source.Name}
			continue
		}

		envelope, records := buildEnvelope(entityID, payload)
		mergeEnvelope(doc, entityID, envelope)
		data, err := json.Marshal(doc)
		if err != nil {
			r.logger.Error("encoding source document failed",
				zap.String("source", task.source.Name), zap.Error(err))
			out <- itemOutcome{entityID: entityID, source: task.source.Name}
			continue
		}
		if err := r.persist(ctx, key, data); err != nil {
			out <- itemOutcome{entityID: entityID, source: task.source.Name}
			continue
		}
		out <- itemOutcome{entityID: entityID, source: task.source.Name, succeeded: true, records: &records}
	}
}

// loadDocument returns the current document for the source on date, or a
// fresh empty one. A fetch for one club must not discard the clubs
// already present.
func (r *Runner) loadDocument(ctx context.Context, src catalog.Source, date string) map[string]any {
	fresh := map[string]any{"data": []any{}}
	data, err := r.store.Get(ctx, src.Key(r.rawPrefix, date))
	if err != nil {
		return fresh
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Warn("existing source document is unreadable, starting fresh",
			zap.String("source", src.Name), zap.Error(err))
		return fresh
	}
	if _, ok := doc["data"].([]any); !ok {
		return fresh
	}
	return doc
}

func (r *Runner) persist(ctx context.Context, key string, payload []byte) error {
	if err := r.store.Put(ctx, key, payload); err != nil {
		r.logger.Error("persisting payload failed", zap.String("key", key), zap.Error(err))
		return err
	}
	metrics.PayloadsPersisted.Inc()
	return nil
}

// finish publishes the run event and records history. Both are best
// effort; the run result stands regardless.
func (r *Runner) finish(ctx context.Context, status *RunStatus) {
	if r.publisher != nil {
		if _, err := r.publisher.Publish(ctx, EventRunCompleted, status); err != nil {
			r.logger.Warn("publishing run event failed", zap.Error(err))
		}
	}
	if r.hist != nil {
		rec := history.RunRecord{
			ID:             status.RunID,
			RunDate:        status.RunDate,
			Outcome:        status.Outcome,
			ItemsPlanned:   status.ItemsPlanned,
			ItemsSucceeded: status.ItemsSucceeded,
			ItemsFailed:    status.ItemsFailed,
			MissingAfter:   status.MissingAfter,
			StartedAt:      status.StartedAt,
			FinishedAt:     status.FinishedAt,
		}
		if err := r.hist.RecordRun(ctx, rec); err != nil {
			r.logger.Warn("recording run history failed", zap.Error(err))
		}
	}
}

// buildEnvelope wraps one club's API response in the stored envelope
// shape. The player list, when present, drives the record count.
func buildEnvelope(entityID string, payload []byte) (map[string]any, int) {
	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		body = nil
	}

	players := extractPlayers(body)
	envelope := map[string]any{"club_id": entityID, "players": players}
	return envelope, len(players)
}

func extractPlayers(body any) []any {
	switch v := body.(type) {
	case []any:
		return v
	case map[string]any:
		if players, ok := v["players"].([]any); ok {
			return players
		}
		if data, ok := v["data"].([]any); ok {
			return data
		}
	}
	return []any{}
}

// mergeEnvelope replaces the club's envelope in place or appends it.
func mergeEnvelope(doc map[string]any, entityID string, envelope map[string]any) {
	items, _ := doc["data"].([]any)
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := item["club_id"].(string); ok && id == entityID {
			items[i] = envelope
			doc["data"] = items
			return
		}
	}
	doc["data"] = append(items, envelope)
}
