package economy

import (
	"context"
	"errors"
	"sort"
	"time"

	"economy_service/internal/logger"
	"economy_service/internal/mailbox"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

var ErrInvalidDelta = errors.New("invalid delta request")

// Mailbox receives raid notifications for victims.
type Mailbox interface {
	Enqueue(ctx context.Context, recipientID string, n mailbox.Notification) error
	Delete(ctx context.Context, recipientID string) error
}

type Service struct {
	repo     Repository
	rates    RateTable
	mailbox  Mailbox
	attempts int
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now; tests use it to pin accrual windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewService(repo Repository, rates RateTable, mb Mailbox, opts ...Option) *Service {
	if rates == nil {
		rates = DefaultRates()
	}
	s := &Service{
		repo:     repo,
		rates:    rates,
		mailbox:  mb,
		attempts: MaxRetries,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Rates() RateTable { return s.rates }

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Materialize computes the player's current state at now. It never persists
// accrued production; only a missing snapshot causes a write (the starter one).
func (s *Service) Materialize(ctx context.Context, playerID string, now time.Time) (*MaterializedState, error) {
	w, err := s.loadWorld(ctx, playerID, now)
	if errors.Is(err, ErrPlayerNotFound) {
		w, err = s.bootstrap(ctx, playerID, "")
	}
	if err != nil {
		return nil, err
	}
	return s.materializeWorld(ctx, w, now)
}

// materializeExisting is Materialize without bootstrap, for target lookups.
func (s *Service) materializeExisting(ctx context.Context, playerID string, now time.Time) (*MaterializedState, error) {
	w, err := s.loadWorld(ctx, playerID, now)
	if err != nil {
		return nil, err
	}
	return s.materializeWorld(ctx, w, now)
}

func (s *Service) materializeWorld(ctx context.Context, w *WorldSnapshot, now time.Time) (*MaterializedState, error) {
	rec, err := s.repo.GetLedger(ctx, w.OwnerID)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(rec.Events)*2)
	for _, e := range rec.Events {
		if e.Voided {
			continue
		}
		keys[e.ID] = struct{}{}
		if e.RefID != "" {
			keys[e.RefID] = struct{}{}
		}
	}

	if repaired := repairFromLedger(w, rec.Events); repaired > 0 {
		logger.Log.WithFields(logrus.Fields{
			"player_id": w.OwnerID,
			"events":    repaired,
			"revision":  w.Revision,
		}).Warn("snapshot behind ledger, rolled forward")
	}

	accrued := Accrue(s.rates.TotalRate(w.Buildings), now.Sub(w.LastMutationTime).Milliseconds())
	return &MaterializedState{
		World:                       *w,
		Balance:                     clampBalance(w.Resources.Balance + accrued),
		Revision:                    w.Revision,
		RequestKeys:                 keys,
		ProductionSinceLastMutation: accrued,
	}, nil
}

// repairFromLedger folds events newer than the snapshot into it. This covers
// a mutation whose ledger write landed but whose snapshot write did not.
func repairFromLedger(w *WorldSnapshot, events []LedgerEvent) int {
	var ahead []LedgerEvent
	for _, e := range events {
		if e.Revision > w.Revision && !e.Voided {
			ahead = append(ahead, e)
		}
	}
	sort.SliceStable(ahead, func(i, j int) bool { return ahead[i].Revision < ahead[j].Revision })
	for _, e := range ahead {
		w.Resources.Balance = clampBalance(e.BalanceAfter)
		w.Revision = e.Revision
		w.LastMutationTime = e.Time
		w.LastEventID = e.ID
	}
	return len(ahead)
}

// ApplyDelta banks accrued production, applies req.Delta and records it in the
// ledger exactly once per request key. A write that is observed not to stick
// is retried with the same event up to the attempt bound, then ErrConflict.
func (s *Service) ApplyDelta(ctx context.Context, req DeltaRequest) (*DeltaResult, error) {
	if req.PlayerID == "" || req.Reason == "" {
		return nil, ErrInvalidDelta
	}
	attempts := req.Attempts
	if attempts <= 0 {
		attempts = s.attempts
	}

	log := logger.Log.WithFields(logrus.Fields{
		"player_id":   req.PlayerID,
		"reason":      req.Reason,
		"delta":       req.Delta,
		"request_key": req.RequestKey,
	})

	var pending *LedgerEvent
	for attempt := 1; attempt <= attempts; attempt++ {
		now := s.now()
		state, err := s.Materialize(ctx, req.PlayerID, now)
		if err != nil {
			return nil, err
		}

		if pending == nil && state.HasKey(req.RequestKey) {
			log.Info("duplicate request ignored")
			return &DeltaResult{State: state, Outcome: OutcomeDuplicate}, nil
		}
		if pending != nil && landed(&state.World, pending) {
			// Reached through the ledger repair; write the rolled-forward snapshot back.
			if state.World.LastEventID == pending.ID {
				world := state.World
				if err := s.repo.PutWorld(ctx, &world); err != nil {
					return nil, err
				}
			}
			return &DeltaResult{State: state, Outcome: OutcomeApplied, Event: pending}, nil
		}

		next := addBalance(state.Balance, req.Delta)
		if next < 0 {
			log.WithField("balance", state.Balance).Info("insufficient funds")
			if pending != nil {
				s.voidEvent(ctx, req.PlayerID, *pending)
			}
			return &DeltaResult{State: state, Outcome: OutcomeInsufficientFunds}, nil
		}

		event := LedgerEvent{
			ID:           req.RequestKey,
			Delta:        req.Delta,
			Reason:       req.Reason,
			RefID:        req.RefID,
			Time:         now,
			Revision:     state.Revision + 1,
			BalanceAfter: clampBalance(next),
		}
		switch {
		case pending != nil:
			event.ID = pending.ID
		case event.ID == "":
			event.ID = uuid.NewString()
		}

		world := state.World
		world.Resources.Balance = event.BalanceAfter
		world.Revision = event.Revision
		world.LastMutationTime = now
		world.LastEventID = event.ID

		if err := s.repo.AppendEvent(ctx, req.PlayerID, event); err != nil {
			return nil, err
		}
		if err := s.repo.PutWorld(ctx, &world); err != nil {
			return nil, err
		}

		stored, err := s.repo.GetWorld(ctx, req.PlayerID)
		if err != nil && !errors.Is(err, ErrPlayerNotFound) {
			return nil, err
		}
		if stored != nil && landed(stored, &event) {
			keys := make(map[string]struct{}, len(state.RequestKeys)+2)
			for k := range state.RequestKeys {
				keys[k] = struct{}{}
			}
			keys[event.ID] = struct{}{}
			if event.RefID != "" {
				keys[event.RefID] = struct{}{}
			}
			log.WithFields(logrus.Fields{
				"revision": world.Revision,
				"balance":  world.Resources.Balance,
				"banked":   state.ProductionSinceLastMutation,
			}).Info("delta applied")
			return &DeltaResult{
				State: &MaterializedState{
					World:       world,
					Balance:     world.Resources.Balance,
					Revision:    world.Revision,
					RequestKeys: keys,
				},
				Outcome: OutcomeApplied,
				Event:   &event,
			}, nil
		}

		pending = &event
		log.WithField("attempt", attempt).Warn("snapshot write did not stick, retrying")
		if attempt < attempts {
			time.Sleep(RetryDelay)
		}
	}
	if pending != nil {
		s.voidEvent(ctx, req.PlayerID, *pending)
	}
	return nil, ErrConflict
}

// voidEvent rewrites a pending event as voided so a later retry with the same
// request key is applied instead of reported as a duplicate.
func (s *Service) voidEvent(ctx context.Context, playerID string, event LedgerEvent) {
	event.Voided = true
	log := logger.Log.WithFields(logrus.Fields{
		"player_id": playerID,
		"event_id":  event.ID,
	})
	if err := s.repo.AppendEvent(ctx, playerID, event); err != nil {
		log.WithError(err).Error("failed to void pending ledger event")
		return
	}
	log.Warn("pending ledger event voided")
}

// addBalance saturates instead of wrapping; balances never exceed SolMax.
func addBalance(balance, delta int64) int64 {
	if delta > SolMax {
		return SolMax
	}
	return balance + delta
}

// landed reports whether w already reflects event. A snapshot that moved past
// the event's revision is treated as including it: a retry that re-applies
// could credit twice, a skipped one at worst misses once.
func landed(w *WorldSnapshot, event *LedgerEvent) bool {
	return w.LastEventID == event.ID || w.Revision > event.Revision
}

// FindEvent looks up a ledger event by id among the retained events.
func (s *Service) FindEvent(ctx context.Context, playerID, eventID string) (*LedgerEvent, error) {
	rec, err := s.repo.GetLedger(ctx, playerID)
	if err != nil {
		return nil, err
	}
	for i := len(rec.Events) - 1; i >= 0; i-- {
		if rec.Events[i].ID == eventID && !rec.Events[i].Voided {
			e := rec.Events[i]
			return &e, nil
		}
	}
	return nil, nil
}

// Ledger returns the retained events for a player, oldest first.
func (s *Service) Ledger(ctx context.Context, playerID string) (*LedgerRecord, error) {
	return s.repo.GetLedger(ctx, playerID)
}

// DeletePlayerState removes the snapshot, the ledger and the mailbox together.
func (s *Service) DeletePlayerState(ctx context.Context, playerID string) error {
	if err := s.repo.DeletePlayer(ctx, playerID); err != nil {
		return err
	}
	if s.mailbox != nil {
		if err := s.mailbox.Delete(ctx, playerID); err != nil {
			return err
		}
	}
	logger.Log.WithField("player_id", playerID).Info("player state deleted")
	return nil
}
