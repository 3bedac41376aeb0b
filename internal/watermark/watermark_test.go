package watermark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/catalog"
	"github.com/mlsdata/transfermkt-ingest/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

// twoByTwoCatalog builds a minimal catalog with two entity-scoped sources
// so scenarios stay readable: players_data (X) and player_stats (Y).
func twoByTwoCatalog() *catalog.Catalog {
	return catalog.NewFromSources([]catalog.Source{
		{
			Name:            "players_data",
			EntityScoped:    true,
			Shape:           catalog.ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players",
		},
		{
			Name:            "player_stats",
			EntityScoped:    true,
			Shape:           catalog.ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/stats",
		},
	})
}

func newTestManager(t *testing.T, cat *catalog.Catalog, teams []string) (*Manager, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.New()
	clk := &fakeClock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(ManagerConfig{
		Store:    store,
		Catalog:  cat,
		Entities: catalog.StaticList{IDs: teams},
		Clock:    clk,
		Logger:   zap.NewNop(),
	})
	return mgr, store, clk
}

func envelope(clubID string, players int) string {
	doc := `{"data":[{"club_id":"` + clubID + `","players":[`
	for i := 0; i < players; i++ {
		if i > 0 {
			doc += ","
		}
		doc += `{"id":"p"}`
	}
	return doc + `]}]}`
}

func TestScenarioTwoTeamsTwoSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, store, _ := newTestManager(t, twoByTwoCatalog(), []string{"A", "B"})

	// Initially the store holds entity A's data for players_data only.
	require.NoError(t, store.Put(ctx,
		"raw_data/players_data_data/players_data_data_"+date+".json",
		[]byte(envelope("A", 5))))

	snap, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 4)

	ax := snap.Find("A", "players_data")
	require.NotNil(t, ax)
	require.True(t, ax.DataExists)
	require.False(t, ax.NeedsRefresh)
	require.NotNil(t, ax.RecordCount)
	require.Equal(t, 5, *ax.RecordCount)

	for _, pair := range [][2]string{{"A", "player_stats"}, {"B", "players_data"}, {"B", "player_stats"}} {
		e := snap.Find(pair[0], pair[1])
		require.NotNil(t, e)
		require.False(t, e.DataExists)
		require.True(t, e.NeedsRefresh)
	}

	missing, err := mgr.MissingByEntity(ctx, date)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"A": {"player_stats"},
		"B": {"players_data", "player_stats"},
	}, missing)

	count := 7
	require.NoError(t, mgr.ReportOutcome(ctx, date, "A", "player_stats", true, &count))
	require.NoError(t, mgr.ReportOutcome(ctx, date, "B", "players_data", true, &count))

	missing, err = mgr.MissingByEntity(ctx, date)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"B": {"player_stats"}}, missing)

	report, err := mgr.CompletenessReport(ctx, date)
	require.NoError(t, err)
	require.True(t, report.LedgerFound)
	require.Equal(t, 4, report.TotalExpected)
	require.Equal(t, 3, report.TotalComplete)
	require.Equal(t, 1, report.MissingFiles)
	require.Equal(t, 75.0, report.OverallCompleteness)
}

func TestIdempotentRebuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, store, _ := newTestManager(t, twoByTwoCatalog(), []string{"A", "B"})

	require.NoError(t, store.Put(ctx,
		"raw_data/players_data_data/players_data_data_"+date+".json",
		[]byte(envelope("A", 2))))

	first, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)
	firstBytes, err := first.Encode()
	require.NoError(t, err)

	second, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)
	secondBytes, err := second.Encode()
	require.NoError(t, err)

	require.Equal(t, firstBytes, secondBytes)
}

func TestForceRefreshMarksEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, store, _ := newTestManager(t, twoByTwoCatalog(), []string{"A", "B"})

	require.NoError(t, store.Put(ctx,
		"raw_data/players_data_data/players_data_data_"+date+".json",
		[]byte(envelope("A", 2))))

	snap, err := mgr.BuildOrRefresh(ctx, date, true)
	require.NoError(t, err)

	for _, e := range snap.Entries {
		require.True(t, e.NeedsRefresh, "row %s/%s should need refresh", e.EntityID, e.Source)
	}
	// Confirmed data stays confirmed; force only demands a re-fetch.
	require.True(t, snap.Find("A", "players_data").DataExists)

	missing, err := mgr.MissingByEntity(ctx, date)
	require.NoError(t, err)
	require.Len(t, missing["A"], 2)
	require.Len(t, missing["B"], 2)
}

func TestCompletenessMonotonicUnderSuccessReporting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, _, _ := newTestManager(t, twoByTwoCatalog(), []string{"A", "B"})

	_, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)

	before, err := mgr.CompletenessReport(ctx, date)
	require.NoError(t, err)
	require.Equal(t, 0, before.TotalComplete)

	require.NoError(t, mgr.ReportOutcome(ctx, date, "B", "player_stats", true, nil))

	after, err := mgr.CompletenessReport(ctx, date)
	require.NoError(t, err)
	require.Equal(t, before.TotalComplete+1, after.TotalComplete)
	require.Equal(t, before.TotalExpected, after.TotalExpected)
}

func TestReportOutcomeUnknownRowIsObservableNoOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, _, _ := newTestManager(t, twoByTwoCatalog(), []string{"A"})

	_, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)
	before, err := mgr.CompletenessReport(ctx, date)
	require.NoError(t, err)

	require.NoError(t, mgr.ReportOutcome(ctx, date, "Z", "players_data", true, nil))

	after, err := mgr.CompletenessReport(ctx, date)
	require.NoError(t, err)
	require.Equal(t, before.TotalExpected, after.TotalExpected)
	require.Equal(t, before.TotalComplete, after.TotalComplete)
}

func TestReportOutcomeFailureMarksNeedsRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, store, _ := newTestManager(t, twoByTwoCatalog(), []string{"A"})

	require.NoError(t, store.Put(ctx,
		"raw_data/players_data_data/players_data_data_"+date+".json",
		[]byte(envelope("A", 2))))
	_, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)

	require.NoError(t, mgr.ReportOutcome(ctx, date, "A", "players_data", false, nil))

	snap, err := mgr.Load(ctx, date)
	require.NoError(t, err)
	e := snap.Find("A", "players_data")
	require.False(t, e.DataExists)
	require.True(t, e.NeedsRefresh)
}

func TestReportOutcomeRebuildsMissingSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, _, _ := newTestManager(t, twoByTwoCatalog(), []string{"A"})

	// No snapshot was ever built; the self-healing path rebuilds first.
	require.NoError(t, mgr.ReportOutcome(ctx, date, "A", "players_data", true, nil))

	snap, err := mgr.Load(ctx, date)
	require.NoError(t, err)
	require.True(t, snap.Find("A", "players_data").DataExists)
}

func TestMissingByEntityBuildsWhenAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, _ := newTestManager(t, twoByTwoCatalog(), []string{"A"})

	missing, err := mgr.MissingByEntity(ctx, "2026-09-01")
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"A": {"players_data", "player_stats"}}, missing)
}

func TestFullCatalogProducesLeagueRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	cat := catalog.New(catalog.Config{Competition: "MLS1"})
	mgr, store, _ := newTestManager(t, cat, []string{"583"})

	require.NoError(t, store.Put(ctx,
		"raw_data/leagues_table_data/leagues_table_data_"+date+".json",
		[]byte(`<html>table</html>`)))

	snap, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)

	// Eight entity-scoped rows for the club plus one ALL row.
	require.Len(t, snap.Entries, 9)
	league := snap.Find(catalog.EntityAll, "leagues_table")
	require.NotNil(t, league)
	// Non-club-scoped existence is file presence only.
	require.True(t, league.DataExists)
	require.False(t, league.NeedsRefresh)
	require.Positive(t, league.FileSizeBytes)
}

func TestLastCheckedComesFromClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, _, clk := newTestManager(t, twoByTwoCatalog(), []string{"A"})

	snap, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)
	require.Equal(t, clk.now, snap.Entries[0].LastChecked)

	clk.now = clk.now.Add(time.Hour)
	require.NoError(t, mgr.ReportOutcome(ctx, date, "A", "players_data", true, nil))

	reloaded, err := mgr.Load(ctx, date)
	require.NoError(t, err)
	require.Equal(t, clk.now, reloaded.Find("A", "players_data").LastChecked)
}

// faultyStore delegates to the memory store but fails writes on demand.
type faultyStore struct {
	*memory.Store
	failPuts bool
}

func (f *faultyStore) Put(ctx context.Context, key string, data []byte) error {
	if f.failPuts {
		return fmt.Errorf("backend write timed out")
	}
	return f.Store.Put(ctx, key, data)
}

func newFaultyManager(t *testing.T) (*Manager, *faultyStore) {
	t.Helper()
	store := &faultyStore{Store: memory.New()}
	mgr := NewManager(ManagerConfig{
		Store:    store,
		Catalog:  twoByTwoCatalog(),
		Entities: catalog.StaticList{IDs: []string{"A"}},
		Clock:    &fakeClock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)},
		Logger:   zap.NewNop(),
	})
	return mgr, store
}

func TestBuildOrRefreshPropagatesPersistError(t *testing.T) {
	t.Parallel()

	mgr, store := newFaultyManager(t)
	store.failPuts = true

	_, err := mgr.BuildOrRefresh(context.Background(), "2026-09-01", false)
	require.ErrorContains(t, err, "persist watermark table")
}

func TestReportOutcomePropagatesPersistError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const date = "2026-09-01"
	mgr, store := newFaultyManager(t)

	_, err := mgr.BuildOrRefresh(ctx, date, false)
	require.NoError(t, err)

	store.failPuts = true
	err = mgr.ReportOutcome(ctx, date, "A", "players_data", true, nil)
	require.ErrorContains(t, err, "persist watermark table")

	// The unpersisted update must not leak into later reads.
	missing, err := mgr.MissingByEntity(ctx, date)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"A": {"players_data", "player_stats"}}, missing)
}
