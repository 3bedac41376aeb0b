// Package catalog defines the closed set of Transfermarkt data sources the
// pipeline tracks, the payload shapes used to verify per-club content, and
// the strategies for discovering the club set.
package catalog

import "fmt"

// EntityAll is the sentinel entity id for sources that are not club-scoped.
const EntityAll = "ALL"

// Shape identifies how a source's persisted payload nests its records.
type Shape int

const (
	// ShapeClubList is a competition-wide document whose items carry a
	// clubs array ({"data":[{"clubs":[{"id":...}]}]}).
	ShapeClubList Shape = iota
	// ShapeClubEnvelope is a document of per-club envelopes
	// ({"data":[{"club_id":...,"players":[...]}]}).
	ShapeClubEnvelope
	// ShapePresence has no club structure; existence is file presence.
	ShapePresence
)

// Source describes one tracked data source.
type Source struct {
	// Name is the catalog key, e.g. "players_profile".
	Name string
	// EntityScoped sources produce one ledger row per club; others
	// produce a single row under EntityAll.
	EntityScoped bool
	// Scraped sources are fetched from the website rather than the API.
	Scraped bool
	// CompetitionWide sources are fetched once per competition; a single
	// fetch covers every club.
	CompetitionWide bool
	// Shape selects the content matcher for existence checks.
	Shape Shape
	// EndpointPattern is the fmt pattern for the API path; the single
	// verb is the club id, except for competition-wide sources where
	// the pattern is already fully resolved.
	EndpointPattern string
}

// Endpoint returns the API path for fetching this source for entityID.
// Competition-wide sources embed the competition instead of the entity.
func (s Source) Endpoint(entityID string) string {
	if s.EndpointPattern == "" {
		return ""
	}
	if s.CompetitionWide {
		return s.EndpointPattern
	}
	return fmt.Sprintf(s.EndpointPattern, entityID)
}

// Folder returns the store folder for this source under prefix.
func (s Source) Folder(prefix string) string {
	return fmt.Sprintf("%s/%s_data", prefix, s.Name)
}

// Key returns the store key for this source's payload on date.
func (s Source) Key(prefix, date string) string {
	return fmt.Sprintf("%s/%s_data/%s_data_%s.json", prefix, s.Name, s.Name, date)
}

// Catalog is the ordered, closed set of data sources.
type Catalog struct {
	sources []Source
	index   map[string]int
}

// Config parameterizes catalog construction.
type Config struct {
	// Competition is the competition code used by competition-wide
	// sources, e.g. "MLS1".
	Competition string
	// LeagueName is the URL slug of the scraped league table page.
	LeagueName string
}

// New builds the catalog of Transfermarkt data sources.
func New(cfg Config) *Catalog {
	if cfg.Competition == "" {
		cfg.Competition = "MLS1"
	}
	sources := []Source{
		{
			Name:            "club_profiles",
			EntityScoped:    true,
			CompetitionWide: true,
			Shape:           ShapeClubList,
			EndpointPattern: fmt.Sprintf("competitions/%s/clubs", cfg.Competition),
		},
		{
			Name:            "players_data",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players",
		},
		{
			Name:            "players_profile",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/profiles",
		},
		{
			Name:            "player_stats",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/stats",
		},
		{
			Name:            "players_achievements",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/achievements",
		},
		{
			Name:            "players_injuries",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/injuries",
		},
		{
			Name:            "players_market_value",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/market_value",
		},
		{
			Name:            "players_transfers",
			EntityScoped:    true,
			Shape:           ShapeClubEnvelope,
			EndpointPattern: "clubs/%s/players/transfers",
		},
		{
			Name:         "leagues_table",
			EntityScoped: false,
			Scraped:      true,
			Shape:        ShapePresence,
		},
	}
	return NewFromSources(sources)
}

// NewFromSources builds a catalog from an explicit source list. The
// catalog is closed once constructed.
func NewFromSources(sources []Source) *Catalog {
	index := make(map[string]int, len(sources))
	for i, s := range sources {
		index[s.Name] = i
	}
	return &Catalog{sources: sources, index: index}
}

// Sources returns the catalog in its fixed order.
func (c *Catalog) Sources() []Source {
	return c.sources
}

// Lookup finds a source by name.
func (c *Catalog) Lookup(name string) (Source, bool) {
	i, ok := c.index[name]
	if !ok {
		return Source{}, false
	}
	return c.sources[i], true
}

// Order returns the position of name in the catalog, or len(sources) for
// unknown names so they sort last.
func (c *Catalog) Order(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return len(c.sources)
}
