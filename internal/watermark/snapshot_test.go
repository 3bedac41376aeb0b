package watermark

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotEncodeDecode(t *testing.T) {
	t.Parallel()

	count := 12
	snap := &Snapshot{
		Date: "2026-09-01",
		Entries: []Entry{
			{
				Date:          "2026-09-01",
				EntityID:      "583",
				Source:        "players_data",
				DataExists:    true,
				NeedsRefresh:  false,
				RecordCount:   &count,
				LastChecked:   time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC),
				FileSizeBytes: 2048,
			},
			{
				Date:         "2026-09-01",
				EntityID:     "ALL",
				Source:       "leagues_table",
				DataExists:   false,
				NeedsRefresh: true,
				LastChecked:  time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC),
			},
		},
	}

	data, err := snap.Encode()
	require.NoError(t, err)

	text := string(data)
	require.True(t, strings.HasPrefix(text,
		"date|team_id|data_source|data_exists|needs_refresh|record_count|last_checked|file_size_bytes\n"))
	require.Contains(t, text, "2026-09-01|583|players_data|true|false|12|2026-09-01T08:30:00Z|2048")

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.Equal(t, "2026-09-01", decoded.Date)
	require.Equal(t, snap.Entries, decoded.Entries)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeSnapshot(nil)
	require.Error(t, err)

	_, err = DecodeSnapshot([]byte("date|team_id\nonly|two\n"))
	require.Error(t, err)
}

func TestFindMissingRowReturnsNil(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{Entries: []Entry{{EntityID: "A", Source: "players_data"}}}
	require.Nil(t, snap.Find("A", "player_stats"))
	require.NotNil(t, snap.Find("A", "players_data"))
}
