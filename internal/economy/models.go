package economy

import (
	"time"
)

// SolMax caps every balance.
const SolMax int64 = 1_000_000_000

const (
	SchemaVersion  = 2
	MapSize        = 40
	MaxLevel       = 10
	MaxBuildings   = 400
	MaxObstacles   = 400
	MaxTroopCount  = 10_000
	LedgerCapacity = 80

	TownHall = "town_hall"
)

// Ledger reasons.
const (
	ReasonRaidLoss   = "raid_loss"
	ReasonRaidLoot   = "raid_loot"
	ReasonProduction = "production"
	ReasonPurchase   = "purchase"
	ReasonReward     = "reward"
	ReasonAdjustment = "adjustment"
)

type Building struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	GridX int    `json:"gridX"`
	GridY int    `json:"gridY"`
	Level int    `json:"level"`
}

type Obstacle struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	GridX int    `json:"gridX"`
	GridY int    `json:"gridY"`
}

type Resources struct {
	Balance int64 `json:"balance"`
}

type WorldSnapshot struct {
	OwnerID          string         `json:"ownerId"`
	Username         string         `json:"username"`
	Buildings        []Building     `json:"buildings"`
	Obstacles        []Obstacle     `json:"obstacles"`
	Army             map[string]int `json:"army"`
	Resources        Resources      `json:"resources"`
	Revision         int64          `json:"revision"`
	LastMutationTime time.Time      `json:"lastMutationTime"`
	LastEventID      string         `json:"lastEventId,omitempty"`
	SchemaVersion    int            `json:"schemaVersion"`
	CreatedAt        time.Time      `json:"createdAt"`

	// LegacyBalance is the pre-v2 top-level balance field. Read only.
	LegacyBalance *int64 `json:"solBalance,omitempty"`
}

type LedgerEvent struct {
	ID           string    `json:"id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	RefID        string    `json:"refId,omitempty"`
	Time         time.Time `json:"time"`
	Revision     int64     `json:"revision"`
	BalanceAfter int64     `json:"balanceAfter"`
	// Voided marks an event whose snapshot write never stuck. It is not
	// folded into the snapshot and its keys may be used again.
	Voided bool `json:"voided,omitempty"`
}

type LedgerRecord struct {
	OwnerID     string        `json:"ownerId"`
	Events      []LedgerEvent `json:"events"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

type MaterializedState struct {
	World                       WorldSnapshot       `json:"world"`
	Balance                     int64               `json:"balance"`
	Revision                    int64               `json:"revision"`
	RequestKeys                 map[string]struct{} `json:"-"`
	ProductionSinceLastMutation int64               `json:"productionSinceLastMutation"`
}

// HasKey reports whether key was already recorded in the player's ledger.
func (m *MaterializedState) HasKey(key string) bool {
	if key == "" {
		return false
	}
	_, ok := m.RequestKeys[key]
	return ok
}

type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
)

type DeltaRequest struct {
	PlayerID   string
	Delta      int64
	Reason     string
	RefID      string
	RequestKey string
	// Attempts bounds the retry-on-conflict loop. Zero means MaxRetries.
	Attempts   int
}

type DeltaResult struct {
	State   *MaterializedState `json:"state"`
	Outcome Outcome            `json:"outcome"`
	Event   *LedgerEvent       `json:"event,omitempty"`
}

type ReconcileStatus string

const (
	ReconcileOK       ReconcileStatus = "ok"
	ReconcileConflict ReconcileStatus = "conflict"
)

type ReconcileResult struct {
	Status    ReconcileStatus `json:"status"`
	World     WorldSnapshot   `json:"world"`
	Corrected bool            `json:"corrected"`
}

type AttackRequest struct {
	AttackID       string  `json:"attack_id"`
	VictimID       string  `json:"victim_id"`
	AttackerID     string  `json:"attacker_id"`
	RequestedLoot  float64 `json:"requested_loot"`
	DestructionPct float64 `json:"destruction_pct"`
	// CallerID is the authenticated identity, never taken from the request body.
	CallerID       string  `json:"-"`
}

type AttackResult struct {
	AttackID         string    `json:"attackId"`
	VictimID         string    `json:"victimId"`
	AttackerID       string    `json:"attackerId"`
	LootApplied      int64     `json:"lootApplied"`
	Destruction      float64   `json:"destruction"`
	AttackerBalance  int64     `json:"attackerBalance"`
	AttackerRevision int64     `json:"attackerRevision"`
	ResolvedAt       time.Time `json:"resolvedAt"`
}
