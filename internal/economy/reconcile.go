package economy

import (
	"context"

	"economy_service/internal/logger"

	"github.com/sirupsen/logrus"
)

// Reconcile accepts a normalized client save. A stale expectedRevision yields a
// conflict carrying the authoritative world and writes nothing. A save that
// would wipe an established base keeps the server's buildings and obstacles.
// The balance is never taken from the client; accrued production is banked.
func (s *Service) Reconcile(ctx context.Context, playerID string, incoming IncomingWorld, expectedRevision *int64) (*ReconcileResult, error) {
	now := s.now()
	state, err := s.Materialize(ctx, playerID, now)
	if err != nil {
		return nil, err
	}

	log := logger.Log.WithFields(logrus.Fields{
		"player_id": playerID,
		"revision":  state.Revision,
	})

	if expectedRevision != nil && *expectedRevision != state.Revision {
		log.WithField("expected_revision", *expectedRevision).Info("save rejected, stale revision")
		return &ReconcileResult{Status: ReconcileConflict, World: state.World}, nil
	}

	world := state.World
	world.Army = incoming.Army
	if world.Army == nil {
		world.Army = map[string]int{}
	}

	corrected := looksRegressed(len(state.World.Buildings), len(incoming.Buildings)) || !hasTownHall(incoming.Buildings)
	if corrected {
		log.WithFields(logrus.Fields{
			"current_buildings":  len(state.World.Buildings),
			"incoming_buildings": len(incoming.Buildings),
		}).Warn("save looks regressed, keeping server layout")
	} else {
		world.Buildings = incoming.Buildings
		world.Obstacles = incoming.Obstacles
		if world.Obstacles == nil {
			world.Obstacles = []Obstacle{}
		}
	}

	world.Resources.Balance = state.Balance
	world.Revision = state.Revision + 1
	world.LastMutationTime = now
	world.SchemaVersion = SchemaVersion

	if err := s.repo.PutWorld(ctx, &world); err != nil {
		return nil, err
	}

	log.WithField("new_revision", world.Revision).Info("world saved")
	return &ReconcileResult{Status: ReconcileOK, World: world, Corrected: corrected}, nil
}
