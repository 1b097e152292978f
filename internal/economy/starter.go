package economy

import (
	"context"
	"errors"
	"time"

	"economy_service/internal/logger"

	"github.com/sirupsen/logrus"
)

const SeedBalance int64 = 500

func starterBuildings() []Building {
	return []Building{
		{ID: "b1", Type: TownHall, GridX: 18, GridY: 18, Level: 1},
		{ID: "b2", Type: BaseProducer, GridX: 14, GridY: 18, Level: 1},
		{ID: "b3", Type: BaseProducer, GridX: 23, GridY: 18, Level: 1},
		{ID: "b4", Type: "cannon", GridX: 18, GridY: 14, Level: 1},
		{ID: "b5", Type: "archer_tower", GridX: 18, GridY: 23, Level: 1},
		{ID: "b6", Type: "wall", GridX: 16, GridY: 16, Level: 1},
		{ID: "b7", Type: "wall", GridX: 22, GridY: 16, Level: 1},
	}
}

func starterObstacles() []Obstacle {
	return []Obstacle{
		{ID: "o1", Type: "tree", GridX: 4, GridY: 6},
		{ID: "o2", Type: "rock", GridX: 33, GridY: 9},
		{ID: "o3", Type: "tree", GridX: 30, GridY: 34},
	}
}

// NewStarterWorld builds the layout every new player starts with.
func NewStarterWorld(playerID, username string, now time.Time) *WorldSnapshot {
	return &WorldSnapshot{
		OwnerID:          playerID,
		Username:         username,
		Buildings:        starterBuildings(),
		Obstacles:        starterObstacles(),
		Army:             map[string]int{},
		Resources:        Resources{Balance: SeedBalance},
		Revision:         1,
		LastMutationTime: now,
		SchemaVersion:    SchemaVersion,
		CreatedAt:        now,
	}
}

// Ensure returns the player's snapshot, creating the starter one if absent.
// Existence is re-checked right before the write; concurrent first logins can
// still both write, which only repeats the identical starter layout.
func (s *Service) Ensure(ctx context.Context, playerID, username string) (*WorldSnapshot, error) {
	w, err := s.loadWorld(ctx, playerID, s.now())
	if err == nil {
		if username != "" {
			w.Username = username
		}
		return w, nil
	}
	if !errors.Is(err, ErrPlayerNotFound) {
		return nil, err
	}
	return s.bootstrap(ctx, playerID, username)
}

func (s *Service) bootstrap(ctx context.Context, playerID, username string) (*WorldSnapshot, error) {
	now := s.now()
	exists, err := s.repo.WorldExists(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.loadWorld(ctx, playerID, now)
	}

	w := NewStarterWorld(playerID, username, now)
	if err := s.repo.PutWorld(ctx, w); err != nil {
		return nil, err
	}
	logger.Log.WithFields(logrus.Fields{
		"player_id": playerID,
		"balance":   w.Resources.Balance,
	}).Info("starter world created")
	return w, nil
}

// loadWorld reads the snapshot and upgrades legacy shapes in memory.
func (s *Service) loadWorld(ctx context.Context, playerID string, now time.Time) (*WorldSnapshot, error) {
	w, err := s.repo.GetWorld(ctx, playerID)
	if err != nil {
		return nil, err
	}
	migrate(w, playerID, now)
	return w, nil
}

func migrate(w *WorldSnapshot, playerID string, now time.Time) {
	if w.OwnerID == "" {
		w.OwnerID = playerID
	}
	if w.SchemaVersion < SchemaVersion {
		if w.LegacyBalance != nil && w.Resources.Balance == 0 {
			w.Resources.Balance = *w.LegacyBalance
		}
		w.SchemaVersion = SchemaVersion
	}
	w.LegacyBalance = nil
	if w.Revision < 1 {
		w.Revision = 1
	}
	// Without an anchor there is no defensible accrual window.
	if w.LastMutationTime.IsZero() {
		w.LastMutationTime = now
	}
	if w.Army == nil {
		w.Army = map[string]int{}
	}
	w.Resources.Balance = clampBalance(w.Resources.Balance)
}

func clampBalance(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > SolMax {
		return SolMax
	}
	return v
}
