// Package watermark maintains the per-date completeness ledger: one row
// per (club, data source) recording whether confirmed data is present in
// the object store and whether a refresh is needed.
//
// Every mutation is load-whole-snapshot, mutate, persist-whole-snapshot.
// The package assumes at most one logical writer per run date; concurrent
// runs for the same date must be serialized externally or updates can be
// lost.
package watermark

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/catalog"
	"github.com/mlsdata/transfermkt-ingest/internal/clock"
	"github.com/mlsdata/transfermkt-ingest/internal/metrics"
	"github.com/mlsdata/transfermkt-ingest/internal/storage"
)

// ErrNoSnapshot reports that no ledger exists yet for a date. It marks a
// rebuild trigger, not a failure.
var ErrNoSnapshot = errors.New("no watermark snapshot for date")

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	Store         storage.ObjectStore
	Catalog       *catalog.Catalog
	Entities      catalog.EntityLister
	Clock         clock.Clock
	Logger        *zap.Logger
	RawPrefix     string
	ControlPrefix string
}

// Manager is the completeness ledger over the object store.
type Manager struct {
	store         storage.ObjectStore
	catalog       *catalog.Catalog
	entities      catalog.EntityLister
	clock         clock.Clock
	logger        *zap.Logger
	rawPrefix     string
	controlPrefix string
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rawPrefix := cfg.RawPrefix
	if rawPrefix == "" {
		rawPrefix = "raw_data"
	}
	controlPrefix := cfg.ControlPrefix
	if controlPrefix == "" {
		controlPrefix = "control_data"
	}
	return &Manager{
		store:         cfg.Store,
		catalog:       cfg.Catalog,
		entities:      cfg.Entities,
		clock:         cfg.Clock,
		logger:        logger,
		rawPrefix:     rawPrefix,
		controlPrefix: controlPrefix,
	}
}

func (m *Manager) snapshotKey(date string) string {
	return fmt.Sprintf("%s/watermark_table_%s.csv", m.controlPrefix, date)
}

// BuildOrRefresh recomputes the ledger for date from object-store ground
// truth and persists it, overwriting any prior snapshot. Entity-scoped
// rows are content-verified: the source's latest payload is inspected for
// the club's presence, not just for file existence. When force is set,
// every row is marked needs_refresh regardless of what exists.
func (m *Manager) BuildOrRefresh(ctx context.Context, date string, force bool) (*Snapshot, error) {
	teams, err := m.entities.Entities(ctx)
	if err != nil {
		// Tolerated: an undeterminable club list degrades to tracking
		// only the non-club-scoped sources.
		m.logger.Warn("could not determine club list, building ledger without club rows",
			zap.String("date", date),
			zap.Error(err))
		teams = nil
	}

	now := m.clock.Now()
	snap := &Snapshot{Date: date}

	// Load each source's latest payload once; every club row for that
	// source is matched against the same bytes.
	type sourceState struct {
		payload []byte
		size    int64
		exists  bool
	}
	states := make(map[string]sourceState, len(m.catalog.Sources()))
	for _, src := range m.catalog.Sources() {
		info, err := storage.LatestKey(ctx, m.store, src.Folder(m.rawPrefix)+"/")
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("inspect %s: %w", src.Name, err)
			}
			states[src.Name] = sourceState{}
			continue
		}
		state := sourceState{size: info.Size, exists: true}
		if src.EntityScoped {
			payload, err := m.store.Get(ctx, info.Key)
			if err != nil {
				return nil, fmt.Errorf("load %s payload: %w", src.Name, err)
			}
			state.payload = payload
		}
		states[src.Name] = state
	}

	for _, team := range teams {
		for _, src := range m.catalog.Sources() {
			if !src.EntityScoped {
				continue
			}
			state := states[src.Name]
			res := src.MatchEntity(state.payload, team)
			entry := Entry{
				Date:         date,
				EntityID:     team,
				Source:       src.Name,
				DataExists:   res.Found,
				NeedsRefresh: !res.Found || force,
				LastChecked:  now,
			}
			if res.Found {
				count := res.Records
				entry.RecordCount = &count
				entry.FileSizeBytes = state.size
			}
			snap.Entries = append(snap.Entries, entry)
		}
	}

	for _, src := range m.catalog.Sources() {
		if src.EntityScoped {
			continue
		}
		state := states[src.Name]
		entry := Entry{
			Date:         date,
			EntityID:     catalog.EntityAll,
			Source:       src.Name,
			DataExists:   state.exists,
			NeedsRefresh: !state.exists || force,
			LastChecked:  now,
		}
		if state.exists {
			entry.FileSizeBytes = state.size
		}
		snap.Entries = append(snap.Entries, entry)
	}

	if err := m.persist(ctx, snap); err != nil {
		return nil, err
	}
	metrics.LedgerRebuilds.Inc()
	m.logger.Info("built watermark table",
		zap.String("date", date),
		zap.Int("rows", len(snap.Entries)),
		zap.Bool("force_refresh", force))
	return snap, nil
}

// Load reads the persisted snapshot for date. Returns ErrNoSnapshot when
// none exists.
func (m *Manager) Load(ctx context.Context, date string) (*Snapshot, error) {
	data, err := m.store.Get(ctx, m.snapshotKey(date))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("load watermark table: %w", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode watermark table: %w", err)
	}
	return snap, nil
}

// loadOrBuild reloads the snapshot, rebuilding from ground truth when no
// snapshot exists yet. The rebuild path is self-healing, not an error.
func (m *Manager) loadOrBuild(ctx context.Context, date string) (*Snapshot, error) {
	snap, err := m.Load(ctx, date)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNoSnapshot) {
		return nil, err
	}
	m.logger.Info("no watermark table found, building one", zap.String("date", date))
	return m.BuildOrRefresh(ctx, date, false)
}

// MissingByEntity groups the needs_refresh rows of the date's ledger by
// club id. Source order within a club follows the catalog order. An empty
// map signals full completeness.
func (m *Manager) MissingByEntity(ctx context.Context, date string) (map[string][]string, error) {
	snap, err := m.loadOrBuild(ctx, date)
	if err != nil {
		return nil, err
	}
	missing := make(map[string][]string)
	for _, src := range m.catalog.Sources() {
		for _, e := range snap.Entries {
			if e.Source != src.Name || !e.NeedsRefresh {
				continue
			}
			missing[e.EntityID] = append(missing[e.EntityID], e.Source)
		}
	}
	return missing, nil
}

// ReportOutcome records a fetch attempt's result on the matching ledger
// row and persists the updated snapshot. An unknown (entity, source) pair
// is logged and skipped so the caller's fetch loop continues; persistence
// failures propagate because an unpersisted update is indistinguishable
// from "still missing" on the next read.
func (m *Manager) ReportOutcome(ctx context.Context, date, entityID, source string, succeeded bool, recordCount *int) error {
	snap, err := m.loadOrBuild(ctx, date)
	if err != nil {
		return err
	}

	entry := snap.Find(entityID, source)
	if entry == nil {
		m.logger.Warn("no watermark row for outcome",
			zap.String("date", date),
			zap.String("team_id", entityID),
			zap.String("data_source", source))
		return nil
	}

	entry.DataExists = succeeded
	entry.NeedsRefresh = !succeeded
	entry.LastChecked = m.clock.Now()
	if recordCount != nil {
		count := *recordCount
		entry.RecordCount = &count
	}

	if err := m.persist(ctx, snap); err != nil {
		return err
	}
	m.logger.Info("updated watermark row",
		zap.String("date", date),
		zap.String("team_id", entityID),
		zap.String("data_source", source),
		zap.Bool("success", succeeded))
	return nil
}

func (m *Manager) persist(ctx context.Context, snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("encode watermark table: %w", err)
	}
	if err := m.store.Put(ctx, m.snapshotKey(snap.Date), data); err != nil {
		return fmt.Errorf("persist watermark table: %w", err)
	}
	return nil
}
