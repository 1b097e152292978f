package economy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAttackConservesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 1000, 0)
	h.seed(t, "attacker", 100, 0)

	req := AttackRequest{
		AttackID:       "raid-1",
		VictimID:       "victim",
		AttackerID:     "attacker",
		RequestedLoot:  300.5,
		DestructionPct: 64,
		CallerID:       "attacker",
	}
	res, err := h.svc.ResolveAttack(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(300), res.LootApplied)
	require.Equal(t, int64(400), res.AttackerBalance)
	require.Equal(t, 64.0, res.Destruction)

	again, err := h.svc.ResolveAttack(ctx, req)
	require.NoError(t, err)
	require.Equal(t, res.LootApplied, again.LootApplied)
	require.Equal(t, res.AttackerRevision, again.AttackerRevision)

	victim, err := h.svc.Materialize(ctx, "victim", h.clock.Now())
	require.NoError(t, err)
	attacker, err := h.svc.Materialize(ctx, "attacker", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(700), victim.Balance)
	require.Equal(t, int64(400), attacker.Balance)
	require.Equal(t, int64(1100), victim.Balance+attacker.Balance)

	vl, err := h.repo.GetLedger(ctx, "victim")
	require.NoError(t, err)
	require.Len(t, vl.Events, 1)
	require.Equal(t, ReasonRaidLoss, vl.Events[0].Reason)
	require.Equal(t, "raid-1", vl.Events[0].RefID)

	al, err := h.repo.GetLedger(ctx, "attacker")
	require.NoError(t, err)
	require.Len(t, al.Events, 1)
	require.Equal(t, ReasonRaidLoot, al.Events[0].Reason)

	inbox, err := h.mail.List(ctx, "victim")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, int64(300), inbox[0].AmountLost)
	require.Equal(t, "user-attacker", inbox[0].AttackerName)
}

func TestResolveAttackCapsLootAtVictimBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 50, 0)
	h.seed(t, "attacker", 0, 0)

	res, err := h.svc.ResolveAttack(ctx, AttackRequest{
		AttackID: "raid-2", VictimID: "victim", AttackerID: "attacker",
		RequestedLoot: 1e12, DestructionPct: 250, CallerID: "attacker",
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), res.LootApplied)
	require.Equal(t, 100.0, res.Destruction)

	victim, err := h.svc.Materialize(ctx, "victim", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(0), victim.Balance)
}

func TestResolveAttackNegativeLootIsZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 50, 0)
	h.seed(t, "attacker", 10, 0)

	res, err := h.svc.ResolveAttack(ctx, AttackRequest{
		AttackID: "raid-3", VictimID: "victim", AttackerID: "attacker",
		RequestedLoot: -40, CallerID: "attacker",
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.LootApplied)
	require.Equal(t, int64(10), res.AttackerBalance)
}

func TestResolveAttackFinishesPartialRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 1000, 0)
	h.seed(t, "attacker", 0, 0)

	// an earlier run debited the victim and died before crediting
	_, err := h.svc.ApplyDelta(ctx, DeltaRequest{
		PlayerID: "victim", Delta: -100, Reason: ReasonRaidLoss,
		RefID: "raid-4", RequestKey: victimKey("raid-4"),
	})
	require.NoError(t, err)

	res, err := h.svc.ResolveAttack(ctx, AttackRequest{
		AttackID: "raid-4", VictimID: "victim", AttackerID: "attacker",
		RequestedLoot: 300, CallerID: "attacker",
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), res.LootApplied)
	require.Equal(t, int64(100), res.AttackerBalance)

	victim, err := h.svc.Materialize(ctx, "victim", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(900), victim.Balance)
}

func TestResolveAttackRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 100, 0)
	h.seed(t, "attacker", 100, 0)

	_, err := h.svc.ResolveAttack(ctx, AttackRequest{AttackID: " ", VictimID: "victim", AttackerID: "attacker", CallerID: "attacker"})
	require.ErrorIs(t, err, ErrInvalidAttack)

	_, err = h.svc.ResolveAttack(ctx, AttackRequest{AttackID: "r", VictimID: "attacker", AttackerID: "attacker", CallerID: "attacker"})
	require.ErrorIs(t, err, ErrSelfAttack)

	_, err = h.svc.ResolveAttack(ctx, AttackRequest{AttackID: "r", VictimID: "victim", AttackerID: "attacker", CallerID: "mallory"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.ResolveAttack(ctx, AttackRequest{AttackID: "r", VictimID: "ghost", AttackerID: "attacker", CallerID: "attacker"})
	require.ErrorIs(t, err, ErrPlayerNotFound)

	exists, err := h.repo.WorldExists(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestResolveAttackStoredResultIsPrivate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 100, 0)
	h.seed(t, "attacker", 100, 0)

	req := AttackRequest{AttackID: "raid-5", VictimID: "victim", AttackerID: "attacker", RequestedLoot: 10, CallerID: "attacker"}
	_, err := h.svc.ResolveAttack(ctx, req)
	require.NoError(t, err)

	req.AttackerID = "victim"
	req.VictimID = "attacker"
	req.CallerID = "victim"
	_, err = h.svc.ResolveAttack(ctx, req)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestClampLoot(t *testing.T) {
	require.Equal(t, int64(0), clampLoot(-1, 100))
	require.Equal(t, int64(99), clampLoot(99.99, 100))
	require.Equal(t, int64(100), clampLoot(100, 100))
	require.Equal(t, int64(100), clampLoot(1e300, 100))
}

func TestResolveAttackRetryAfterCreditConflict(t *testing.T) {
	ctx := context.Background()
	over := &overwritingRepo{target: "attacker", enabled: true}
	h := newHarness(t, func(r Repository) Repository { over.Repository = r; return over })
	h.seed(t, "victim", 1000, 0)
	h.seed(t, "attacker", 100, 0)

	req := AttackRequest{
		AttackID: "raid-9", VictimID: "victim", AttackerID: "attacker",
		RequestedLoot: 200, CallerID: "attacker",
	}
	_, err := h.svc.ResolveAttack(ctx, req)
	require.ErrorIs(t, err, ErrConflict)

	over.setEnabled(false)
	res, err := h.svc.ResolveAttack(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(200), res.LootApplied)
	require.Equal(t, int64(300), res.AttackerBalance)

	victim, err := h.svc.Materialize(ctx, "victim", h.clock.Now())
	require.NoError(t, err)
	attacker, err := h.svc.Materialize(ctx, "attacker", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(800), victim.Balance)
	require.Equal(t, int64(300), attacker.Balance)

	vl, err := h.repo.GetLedger(ctx, "victim")
	require.NoError(t, err)
	require.Len(t, vl.Events, 1)
}

func TestResolveAttackRejectsPathLikeIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "victim", 1000, 0)
	h.seed(t, "attacker", 100, 0)

	long := make([]byte, MaxIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	cases := []AttackRequest{
		{AttackID: "../players/victim/world", VictimID: "victim", AttackerID: "attacker", CallerID: "attacker"},
		{AttackID: "a/b", VictimID: "victim", AttackerID: "attacker", CallerID: "attacker"},
		{AttackID: string(long), VictimID: "victim", AttackerID: "attacker", CallerID: "attacker"},
		{AttackID: "raid\n1", VictimID: "victim", AttackerID: "attacker", CallerID: "attacker"},
		{AttackID: "raid-10", VictimID: "../victim", AttackerID: "attacker", CallerID: "attacker"},
		{AttackID: "raid-11", VictimID: "victim", AttackerID: "a\\b", CallerID: "a\\b"},
	}
	for _, req := range cases {
		req.RequestedLoot = 10
		_, err := h.svc.ResolveAttack(ctx, req)
		require.ErrorIs(t, err, ErrInvalidAttack, "%q", req.AttackID)
	}

	victim, err := h.svc.Materialize(ctx, "victim", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1000), victim.Balance)
}
