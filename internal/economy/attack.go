package economy

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode"

	"economy_service/internal/logger"
	"economy_service/internal/mailbox"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidAttack = errors.New("invalid attack request")
	ErrSelfAttack    = errors.New("cannot attack yourself")
	ErrForbidden     = errors.New("attacker does not match caller")
)

// MaxIDLength bounds player and attack ids; both become object store paths.
const MaxIDLength = 128

// ValidID reports whether id is safe to use as a single store path segment.
func ValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength || strings.Contains(id, "..") {
		return false
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func victimKey(attackID string) string   { return "attack:" + attackID + ":victim" }
func attackerKey(attackID string) string { return "attack:" + attackID + ":attacker" }

// ResolveAttack moves loot from victim to attacker. Each side is an
// independent idempotent delta, so a retry after partial completion finishes
// the missing side without touching the completed one. The stored result
// makes the whole call idempotent on AttackID.
func (s *Service) ResolveAttack(ctx context.Context, req AttackRequest) (*AttackResult, error) {
	req.AttackID = strings.TrimSpace(req.AttackID)
	if !ValidID(req.AttackID) || !ValidID(req.VictimID) || !ValidID(req.AttackerID) {
		return nil, ErrInvalidAttack
	}

	existing, err := s.repo.GetAttackResult(ctx, req.AttackID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.AttackerID != req.CallerID {
			return nil, ErrForbidden
		}
		return existing, nil
	}

	if req.VictimID == req.AttackerID {
		return nil, ErrSelfAttack
	}
	if req.AttackerID != req.CallerID {
		return nil, ErrForbidden
	}

	log := logger.Log.WithFields(logrus.Fields{
		"attack_id":   req.AttackID,
		"victim_id":   req.VictimID,
		"attacker_id": req.AttackerID,
	})

	now := s.now()
	victim, err := s.materializeExisting(ctx, req.VictimID, now)
	if err != nil {
		return nil, err
	}
	attacker, err := s.Materialize(ctx, req.AttackerID, now)
	if err != nil {
		return nil, err
	}

	loot := clampLoot(req.RequestedLoot, victim.Balance)
	destruction := math.Max(0, math.Min(100, req.DestructionPct))
	if math.IsNaN(destruction) {
		destruction = 0
	}

	loot, err = s.debitVictim(ctx, req, loot)
	if err != nil {
		return nil, err
	}

	credit, err := s.ApplyDelta(ctx, DeltaRequest{
		PlayerID:   req.AttackerID,
		Delta:      loot,
		Reason:     ReasonRaidLoot,
		RefID:      req.AttackID,
		RequestKey: attackerKey(req.AttackID),
	})
	if err != nil {
		return nil, err
	}

	if s.mailbox != nil {
		n := mailbox.Notification{
			ID:           req.AttackID,
			AttackerID:   req.AttackerID,
			AttackerName: attacker.World.Username,
			AmountLost:   loot,
			Destruction:  destruction,
			Time:         now,
		}
		if err := s.mailbox.Enqueue(ctx, req.VictimID, n); err != nil {
			log.WithError(err).Warn("raid notification not delivered")
		}
	}

	result := &AttackResult{
		AttackID:         req.AttackID,
		VictimID:         req.VictimID,
		AttackerID:       req.AttackerID,
		LootApplied:      loot,
		Destruction:      destruction,
		AttackerBalance:  credit.State.Balance,
		AttackerRevision: credit.State.Revision,
		ResolvedAt:       now,
	}
	if err := s.repo.PutAttackResult(ctx, result); err != nil {
		return nil, err
	}

	log.WithField("loot", loot).Info("attack resolved")
	return result, nil
}

// debitVictim takes up to loot from the victim and returns what was taken.
func (s *Service) debitVictim(ctx context.Context, req AttackRequest, loot int64) (int64, error) {
	key := victimKey(req.AttackID)
	for i := 0; i < 2; i++ {
		res, err := s.ApplyDelta(ctx, DeltaRequest{
			PlayerID:   req.VictimID,
			Delta:      -loot,
			Reason:     ReasonRaidLoss,
			RefID:      req.AttackID,
			RequestKey: key,
		})
		if err != nil {
			return 0, err
		}
		switch res.Outcome {
		case OutcomeApplied:
			return loot, nil
		case OutcomeDuplicate:
			// An earlier partial run already debited; credit what it took.
			ev, err := s.FindEvent(ctx, req.VictimID, key)
			if err != nil {
				return 0, err
			}
			if ev != nil {
				return -ev.Delta, nil
			}
			return loot, nil
		case OutcomeInsufficientFunds:
			// The victim spent between our read and the debit.
			loot = res.State.Balance
		}
	}
	return 0, ErrConflict
}

func clampLoot(requested float64, victimBalance int64) int64 {
	if math.IsNaN(requested) || requested <= 0 {
		return 0
	}
	f := math.Floor(requested)
	if f >= float64(victimBalance) {
		return victimBalance
	}
	return int64(f)
}
