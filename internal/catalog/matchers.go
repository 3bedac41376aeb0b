package catalog

import (
	"encoding/json"
	"strconv"
)

// MatchResult reports whether an entity is present in a payload and how
// many of its records the payload holds.
type MatchResult struct {
	Found   bool
	Records int
}

// MatchEntity inspects a raw persisted payload for the given club's
// presence according to the source's shape. Shape mismatches and decode
// failures are "not found", never an error: a file can exist yet contain
// zero records for a specific club.
func (s Source) MatchEntity(payload []byte, entityID string) MatchResult {
	if len(payload) == 0 || entityID == "" {
		return MatchResult{}
	}
	switch s.Shape {
	case ShapeClubList:
		return matchClubList(payload, entityID)
	case ShapeClubEnvelope:
		return matchClubEnvelope(payload, entityID)
	default:
		return MatchResult{}
	}
}

// matchClubList walks {"data":[{"clubs":[{"id":...}]}]}.
func matchClubList(payload []byte, entityID string) MatchResult {
	items := decodeDataItems(payload)
	for _, item := range items {
		clubs, ok := item["clubs"].([]any)
		if !ok {
			continue
		}
		for _, c := range clubs {
			club, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if stringID(club["id"]) == entityID {
				return MatchResult{Found: true, Records: 1}
			}
		}
	}
	return MatchResult{}
}

// matchClubEnvelope walks {"data":[{"club_id":...,"players":[...]}]}.
func matchClubEnvelope(payload []byte, entityID string) MatchResult {
	items := decodeDataItems(payload)
	for _, item := range items {
		if stringID(item["club_id"]) != entityID {
			continue
		}
		records := 0
		if players, ok := item["players"].([]any); ok {
			records = len(players)
		}
		return MatchResult{Found: true, Records: records}
	}
	return MatchResult{}
}

// ClubIDs extracts every club id from a club-list payload, for entity
// discovery from persisted club profiles.
func ClubIDs(payload []byte) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range decodeDataItems(payload) {
		clubs, ok := item["clubs"].([]any)
		if !ok {
			continue
		}
		for _, c := range clubs {
			club, ok := c.(map[string]any)
			if !ok {
				continue
			}
			id := stringID(club["id"])
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func decodeDataItems(payload []byte) []map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	raw, ok := doc["data"].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if item, ok := r.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items
}

// stringID normalizes the id field, which the upstream serves either as a
// string or a number.
func stringID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
