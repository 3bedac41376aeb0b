// Package scrape pulls the league standings tables from the public
// Transfermarkt website. The standings are not exposed by the API, so this
// is the one place the pipeline reads HTML instead of JSON.
package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mlsdata/transfermkt-ingest/internal/clock"
	"github.com/mlsdata/transfermkt-ingest/internal/clock/system"
)

const defaultBaseURL = "https://www.transfermarkt.us"

// Config controls collector behavior.
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	Competition string
	LeagueName  string
	// Clock picks the season used to locate the current standings page.
	Clock clock.Clock
}

// TableRow is one standings line for one club in one season.
type TableRow struct {
	Position       int    `json:"position"`
	ClubName       string `json:"club_name"`
	MatchesPlayed  int    `json:"matches_played"`
	Wins           int    `json:"wins"`
	Draws          int    `json:"draws"`
	Losses         int    `json:"losses"`
	Goals          string `json:"goals"`
	GoalDifference int    `json:"goal_difference"`
	Points         int    `json:"points"`
	Conference     string `json:"conference"`
	Year           string `json:"year"`
}

// Scraper fetches and parses standings pages.
type Scraper struct {
	cfg           Config
	clock         clock.Clock
	baseCollector *colly.Collector
}

// New builds a Scraper.
func New(cfg Config) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Scraper{cfg: cfg, clock: cfg.Clock, baseCollector: c}
}

// Seasons returns the display years offered by the season selector on the
// current standings page, newest first.
func (s *Scraper) Seasons(ctx context.Context) ([]string, error) {
	collector := s.newCollector()

	var seasons []string
	collector.OnHTML(`select[name="saison_id"] option`, func(e *colly.HTMLElement) {
		year := strings.TrimSpace(e.Text)
		if year != "" {
			seasons = append(seasons, year)
		}
	})

	currentYear := strconv.Itoa(s.clock.Now().Year())
	if err := s.visit(ctx, collector, s.tableURL(currentYear)); err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return nil, fmt.Errorf("no seasons found on standings page for %s", s.cfg.LeagueName)
	}
	return seasons, nil
}

// Table fetches the standings for one display year. The site splits the
// league into an eastern and a western conference table; both are returned.
func (s *Scraper) Table(ctx context.Context, year string) ([]TableRow, error) {
	collector := s.newCollector()

	var rows []TableRow
	tableIdx := 0
	collector.OnHTML("table.items", func(e *colly.HTMLElement) {
		conference := "eastern"
		if tableIdx > 0 {
			conference = "western"
		}
		tableIdx++
		e.ForEach("tbody tr", func(_ int, tr *colly.HTMLElement) {
			row, ok := parseRow(tr.ChildTexts("td"))
			if !ok {
				return
			}
			row.Conference = conference
			row.Year = year
			rows = append(rows, row)
		})
	})

	yearNum, err := strconv.Atoi(year)
	if err != nil {
		return nil, fmt.Errorf("invalid season year %q: %w", year, err)
	}
	// saison_id lags the display year by one.
	if err := s.visit(ctx, collector, s.tableURL(strconv.Itoa(yearNum-1))); err != nil {
		return nil, err
	}
	return rows, nil
}

// LeagueTable fetches every season the site offers and concatenates the
// rows, newest season first.
func (s *Scraper) LeagueTable(ctx context.Context) ([]TableRow, error) {
	seasons, err := s.Seasons(ctx)
	if err != nil {
		return nil, err
	}

	var all []TableRow
	for _, year := range seasons {
		rows, err := s.Table(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("season %s: %w", year, err)
		}
		all = append(all, rows...)
	}
	return all, nil
}

func (s *Scraper) newCollector() *colly.Collector {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (s *Scraper) tableURL(saisonID string) string {
	return fmt.Sprintf("%s/%s/tabelle/wettbewerb/%s/saison_id/%s",
		strings.TrimSuffix(s.cfg.BaseURL, "/"), s.cfg.LeagueName, s.cfg.Competition, saisonID)
}

func (s *Scraper) visit(ctx context.Context, collector *colly.Collector, url string) error {
	var fetchErr error
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("standings fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return nil
	}
}

// parseRow maps the cell texts of one standings row. Expected column order:
// position, badge, club name, matches, wins, draws, losses, goals,
// goal difference, points.
func parseRow(cells []string) (TableRow, bool) {
	if len(cells) < 10 {
		return TableRow{}, false
	}
	return TableRow{
		Position:       parseInt(cells[0]),
		ClubName:       strings.TrimSpace(cells[2]),
		MatchesPlayed:  parseInt(cells[3]),
		Wins:           parseInt(cells[4]),
		Draws:          parseInt(cells[5]),
		Losses:         parseInt(cells[6]),
		Goals:          strings.TrimSpace(cells[7]),
		GoalDifference: parseInt(cells[8]),
		Points:         parseInt(cells[9]),
	}, true
}

func parseInt(s string) int {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
