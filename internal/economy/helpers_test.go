package economy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"economy_service/internal/blobstore"
	"economy_service/internal/logger"
	"economy_service/internal/mailbox"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc   *Service
	repo  *BlobRepository
	mail  *mailbox.Service
	clock *testClock
}

func newHarness(t *testing.T, wrap func(Repository) Repository, opts ...Option) *harness {
	t.Helper()
	logger.Silence()
	store, err := blobstore.New(blobstore.NewMemory(), false)
	require.NoError(t, err)

	repo := NewBlobRepository(store)
	var r Repository = repo
	if wrap != nil {
		r = wrap(repo)
	}
	clock := newTestClock()
	mail := mailbox.NewService(store, nil)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &harness{
		svc:   NewService(r, DefaultRates(), mail, opts...),
		repo:  repo,
		mail:  mail,
		clock: clock,
	}
}

// seed writes a world with the given balance and collector count, anchored at now.
func (h *harness) seed(t *testing.T, playerID string, balance int64, collectors int) *WorldSnapshot {
	t.Helper()
	w := &WorldSnapshot{
		OwnerID:          playerID,
		Username:         "user-" + playerID,
		Buildings:        []Building{{ID: "th", Type: TownHall, GridX: 20, GridY: 20, Level: 1}},
		Obstacles:        []Obstacle{},
		Army:             map[string]int{},
		Resources:        Resources{Balance: balance},
		Revision:         1,
		LastMutationTime: h.clock.Now(),
		SchemaVersion:    SchemaVersion,
		CreatedAt:        h.clock.Now(),
	}
	for i := 0; i < collectors; i++ {
		w.Buildings = append(w.Buildings, Building{ID: fmt.Sprintf("c%d", i), Type: BaseProducer, GridX: i, GridY: 0, Level: 1})
	}
	require.NoError(t, h.repo.PutWorld(context.Background(), w))
	return w
}

// seedLayout writes a world with n non-producing buildings, one of them a town hall.
func (h *harness) seedLayout(t *testing.T, playerID string, n int) *WorldSnapshot {
	t.Helper()
	w := h.seed(t, playerID, 1000, 0)
	w.Buildings = w.Buildings[:1]
	for i := 1; i < n; i++ {
		w.Buildings = append(w.Buildings, Building{ID: fmt.Sprintf("w%d", i), Type: "wall", GridX: i % MapSize, GridY: i / MapSize, Level: 1})
	}
	w.Obstacles = []Obstacle{{ID: "o1", Type: "rock", GridX: 1, GridY: 1}}
	require.NoError(t, h.repo.PutWorld(context.Background(), w))
	return w
}

// flakyRepo lets tests lose or fail snapshot writes.
type flakyRepo struct {
	Repository
	mu          sync.Mutex
	dropWrites  int // silently ignore this many PutWorld calls
	failWrites  int // return an error for this many PutWorld calls
	dropAppends int // silently ignore this many AppendEvent calls
	putAttempts int
}

func (f *flakyRepo) AppendEvent(ctx context.Context, playerID string, e LedgerEvent) error {
	f.mu.Lock()
	if f.dropAppends > 0 {
		f.dropAppends--
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	return f.Repository.AppendEvent(ctx, playerID, e)
}

func (f *flakyRepo) PutWorld(ctx context.Context, w *WorldSnapshot) error {
	f.mu.Lock()
	f.putAttempts++
	if f.failWrites > 0 {
		f.failWrites--
		f.mu.Unlock()
		return fmt.Errorf("store unavailable")
	}
	if f.dropWrites > 0 {
		f.dropWrites--
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	return f.Repository.PutWorld(ctx, w)
}
