package watermark

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// Entry is one ledger row: the completeness state of a single
// (run date, club, data source) combination.
type Entry struct {
	Date          string
	EntityID      string
	Source        string
	DataExists    bool
	NeedsRefresh  bool
	RecordCount   *int
	LastChecked   time.Time
	FileSizeBytes int64
}

// Snapshot is the full ledger for one run date. It is always persisted
// and reloaded whole.
type Snapshot struct {
	Date    string
	Entries []Entry
}

// Find returns a pointer to the row for (entityID, source), or nil.
func (s *Snapshot) Find(entityID, source string) *Entry {
	for i := range s.Entries {
		if s.Entries[i].EntityID == entityID && s.Entries[i].Source == source {
			return &s.Entries[i]
		}
	}
	return nil
}

// csvHeader matches the original control table: lowercase names,
// pipe-delimited.
var csvHeader = []string{
	"date", "team_id", "data_source", "data_exists", "needs_refresh",
	"record_count", "last_checked", "file_size_bytes",
}

// Encode serializes the snapshot as pipe-delimited CSV.
func (s *Snapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '|'

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, e := range s.Entries {
		count := ""
		if e.RecordCount != nil {
			count = strconv.Itoa(*e.RecordCount)
		}
		record := []string{
			e.Date,
			e.EntityID,
			e.Source,
			strconv.FormatBool(e.DataExists),
			strconv.FormatBool(e.NeedsRefresh),
			count,
			e.LastChecked.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.FileSizeBytes, 10),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a persisted ledger table.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '|'

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty watermark table")
	}

	snap := &Snapshot{}
	for i, record := range records[1:] {
		if len(record) != len(csvHeader) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", i+1, len(csvHeader), len(record))
		}
		exists, err := strconv.ParseBool(record[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: data_exists: %w", i+1, err)
		}
		refresh, err := strconv.ParseBool(record[4])
		if err != nil {
			return nil, fmt.Errorf("row %d: needs_refresh: %w", i+1, err)
		}
		var count *int
		if record[5] != "" {
			n, err := strconv.Atoi(record[5])
			if err != nil {
				return nil, fmt.Errorf("row %d: record_count: %w", i+1, err)
			}
			count = &n
		}
		checked, err := time.Parse(time.RFC3339, record[6])
		if err != nil {
			return nil, fmt.Errorf("row %d: last_checked: %w", i+1, err)
		}
		size, err := strconv.ParseInt(record[7], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: file_size_bytes: %w", i+1, err)
		}
		snap.Entries = append(snap.Entries, Entry{
			Date:          record[0],
			EntityID:      record[1],
			Source:        record[2],
			DataExists:    exists,
			NeedsRefresh:  refresh,
			RecordCount:   count,
			LastChecked:   checked,
			FileSizeBytes: size,
		})
		if snap.Date == "" {
			snap.Date = record[0]
		}
	}
	return snap, nil
}
