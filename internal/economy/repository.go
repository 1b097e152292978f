package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"economy_service/internal/blobstore"
)

var (
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("revision conflict")
)

type Repository interface {
	GetWorld(ctx context.Context, playerID string) (*WorldSnapshot, error)
	PutWorld(ctx context.Context, world *WorldSnapshot) error
	WorldExists(ctx context.Context, playerID string) (bool, error)
	GetLedger(ctx context.Context, playerID string) (*LedgerRecord, error)
	AppendEvent(ctx context.Context, playerID string, event LedgerEvent) error
	GetAttackResult(ctx context.Context, attackID string) (*AttackResult, error)
	PutAttackResult(ctx context.Context, result *AttackResult) error
	DeletePlayer(ctx context.Context, playerID string) error
}

type BlobRepository struct {
	store *blobstore.Store
}

func NewBlobRepository(store *blobstore.Store) *BlobRepository {
	return &BlobRepository{store: store}
}

func worldPath(playerID string) string  { return "players/" + playerID + "/world.json" }
func ledgerPath(playerID string) string { return "players/" + playerID + "/ledger.json" }
func attackPath(attackID string) string { return "attacks/" + attackID + ".json" }

func (r *BlobRepository) GetWorld(ctx context.Context, playerID string) (*WorldSnapshot, error) {
	var w WorldSnapshot
	if err := r.store.GetJSON(ctx, worldPath(playerID), &w); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get world: %w", err)
	}
	return &w, nil
}

func (r *BlobRepository) PutWorld(ctx context.Context, world *WorldSnapshot) error {
	if err := r.store.PutJSON(ctx, worldPath(world.OwnerID), world); err != nil {
		return fmt.Errorf("failed to put world: %w", err)
	}
	return nil
}

func (r *BlobRepository) WorldExists(ctx context.Context, playerID string) (bool, error) {
	ok, err := r.store.Exists(ctx, worldPath(playerID))
	if err != nil {
		return false, fmt.Errorf("failed to check world: %w", err)
	}
	return ok, nil
}

// GetLedger returns an empty record when none has been written yet.
func (r *BlobRepository) GetLedger(ctx context.Context, playerID string) (*LedgerRecord, error) {
	var rec LedgerRecord
	if err := r.store.GetJSON(ctx, ledgerPath(playerID), &rec); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return &LedgerRecord{OwnerID: playerID}, nil
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return &rec, nil
}

// AppendEvent adds event to the ledger ring, replacing an entry with the same
// id so a retried write never records the same event twice.
func (r *BlobRepository) AppendEvent(ctx context.Context, playerID string, event LedgerEvent) error {
	rec, err := r.GetLedger(ctx, playerID)
	if err != nil {
		return err
	}
	rec.OwnerID = playerID
	rec.Events = appendBounded(rec.Events, event, LedgerCapacity)
	rec.LastUpdated = time.Now().UTC()
	if err := r.store.PutJSON(ctx, ledgerPath(playerID), rec); err != nil {
		return fmt.Errorf("failed to append ledger event: %w", err)
	}
	return nil
}

func appendBounded(events []LedgerEvent, event LedgerEvent, capacity int) []LedgerEvent {
	out := make([]LedgerEvent, 0, len(events)+1)
	for _, e := range events {
		if e.ID != event.ID {
			out = append(out, e)
		}
	}
	out = append(out, event)
	if len(out) > capacity {
		out = out[len(out)-capacity:]
	}
	return out
}

func (r *BlobRepository) GetAttackResult(ctx context.Context, attackID string) (*AttackResult, error) {
	var res AttackResult
	if err := r.store.GetJSON(ctx, attackPath(attackID), &res); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get attack result: %w", err)
	}
	return &res, nil
}

func (r *BlobRepository) PutAttackResult(ctx context.Context, result *AttackResult) error {
	if err := r.store.PutJSON(ctx, attackPath(result.AttackID), result); err != nil {
		return fmt.Errorf("failed to put attack result: %w", err)
	}
	return nil
}

func (r *BlobRepository) DeletePlayer(ctx context.Context, playerID string) error {
	for _, p := range []string{worldPath(playerID), ledgerPath(playerID)} {
		if err := r.store.Delete(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}
