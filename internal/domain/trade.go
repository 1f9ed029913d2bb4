// Package domain defines the core trade model, store interfaces, and
// sentinel errors shared by every layer of the trade verification service.
package domain

import "time"

// TradeStatus is the lifecycle state of a trade. Transitions are monotonic
// along CREATED → REDIRECTED → PENDING_RETURN → {VERIFIED | REJECTED};
// EXPIRED is reachable from any non-terminal state after the configured TTL.
type TradeStatus string

const (
	StatusCreated       TradeStatus = "CREATED"
	StatusRedirected    TradeStatus = "REDIRECTED"
	StatusPendingReturn TradeStatus = "PENDING_RETURN"
	StatusVerified      TradeStatus = "VERIFIED"
	StatusRejected      TradeStatus = "REJECTED"
	StatusExpired       TradeStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// rank orders statuses along the forward path. Terminal states share the
// highest rank so that no transition can move past them.
func (s TradeStatus) rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusRedirected:
		return 1
	case StatusPendingReturn:
		return 2
	case StatusVerified, StatusRejected, StatusExpired:
		return 3
	}
	return -1
}

// AtOrPast reports whether s has already reached (or moved beyond) other on
// the forward path.
func (s TradeStatus) AtOrPast(other TradeStatus) bool {
	return s.rank() >= other.rank()
}

// RewardTier is the secondary-reward tier decided by dwell-time evaluation
// or proof adjudication.
type RewardTier string

const (
	TierNone    RewardTier = "none"
	TierPartial RewardTier = "partial"
	TierFull    RewardTier = "full"
)

// Trade is one ad click-through instance tracked from redirect until its
// engagement is verified. The id is supplied by the upstream matching
// component; this service never mints trade ids.
type Trade struct {
	ID              string
	Destination     string
	Status          TradeStatus
	CreatedAt       time.Time
	RedirectedAt    *time.Time
	ReturnedAt      *time.Time
	DwellTime       *float64 // seconds, write-once
	PrimaryReward   *float64
	SecondaryReward *float64
	RewardTier      *RewardTier
	ProofRef        *string // object key of the uploaded proof artifact
}

// ReturnOutcome is the result of a dwell-time evaluation. Replayed is true
// when the outcome was previously stored and is being returned verbatim for
// an idempotent re-submission.
type ReturnOutcome struct {
	TradeID         string      `json:"trade_id"`
	Status          TradeStatus `json:"status"`
	Tier            RewardTier  `json:"reward_tier"`
	DwellTime       float64     `json:"dwell_time"`
	SecondaryReward float64     `json:"secondary_reward_amount"`
	Replayed        bool        `json:"replayed"`
}

// TradeEvent is broadcast to monitoring consumers on every state transition.
type TradeEvent struct {
	TradeID string      `json:"trade_id"`
	Status  TradeStatus `json:"status"`
	Tier    RewardTier  `json:"reward_tier,omitempty"`
	At      time.Time   `json:"at"`
}
