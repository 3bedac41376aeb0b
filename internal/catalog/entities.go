package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/storage"
)

// DefaultClubIDs is the compiled-in last-resort club list (MLS). Kept as
// an explicit constant rather than a silent assumption so operators can
// see exactly what a bare deployment will track.
var DefaultClubIDs = []string{
	"583", "813", "1031", "1706", "2089", "3449", "6418", "8816",
	"11091", "15296", "18723", "27384", "31198", "39163", "45604",
	"51663", "60805", "69261", "72309", "79016", "84184", "101955",
	"111651", "121477",
}

// EntityLister yields the club ids the ledger should track. Strategies
// return an empty list, not an error, when they simply have nothing.
type EntityLister interface {
	Entities(ctx context.Context) ([]string, error)
}

// StaticList serves a configured club id list.
type StaticList struct {
	IDs []string
}

// Entities returns the configured ids.
func (s StaticList) Entities(_ context.Context) ([]string, error) {
	return s.IDs, nil
}

// PayloadDerived extracts club ids from the latest persisted club
// profiles payload.
type PayloadDerived struct {
	Store  storage.ObjectStore
	Folder string
}

// Entities loads the newest club profiles object and walks its club ids.
// A missing payload yields an empty list.
func (p PayloadDerived) Entities(ctx context.Context) ([]string, error) {
	payload, err := storage.GetLatest(ctx, p.Store, p.Folder)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load club profiles payload: %w", err)
	}
	return ClubIDs(payload), nil
}

// Chain tries strategies in order until one yields a non-empty list.
type Chain struct {
	Strategies []EntityLister
	Logger     *zap.Logger
}

// NewChain builds the standard discovery chain: configured list, then
// derivation from persisted club profiles, then the default constant.
func NewChain(configured []string, store storage.ObjectStore, profilesFolder string, logger *zap.Logger) Chain {
	return Chain{
		Strategies: []EntityLister{
			StaticList{IDs: configured},
			PayloadDerived{Store: store, Folder: profilesFolder},
			StaticList{IDs: DefaultClubIDs},
		},
		Logger: logger,
	}
}

// Entities returns the first non-empty strategy result. Strategy errors
// are logged and skipped; an error is returned only when every strategy
// failed or came back empty.
func (c Chain) Entities(ctx context.Context) ([]string, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for i, strategy := range c.Strategies {
		ids, err := strategy.Entities(ctx)
		if err != nil {
			logger.Warn("entity discovery strategy failed",
				zap.Int("strategy", i),
				zap.Error(err))
			continue
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return nil, fmt.Errorf("could not determine club list from any strategy")
}
