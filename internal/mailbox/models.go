package mailbox

import "time"

const Capacity = 50

type Notification struct {
	ID           string    `json:"id"`
	AttackerID   string    `json:"attackerId"`
	AttackerName string    `json:"attackerName"`
	AmountLost   int64     `json:"amountLost"`
	Destruction  float64   `json:"destruction"`
	Time         time.Time `json:"time"`
	Read         bool      `json:"read"`
}

type Inbox struct {
	OwnerID       string         `json:"ownerId"`
	Notifications []Notification `json:"notifications"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// Update is what live subscribers receive.
type Update struct {
	RecipientID  string       `json:"recipient_id"`
	Notification Notification `json:"notification"`
	Unread       int          `json:"unread"`
}
