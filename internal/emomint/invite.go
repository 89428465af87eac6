package emomint

import "time"

// InviteCode is a capacity-limited referral token. Uses never exceeds
// UseLimit; each bound account increments Uses exactly once, when its
// binding is first persisted.
type InviteCode struct {
	Code      string    `json:"code" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountId uint      `json:"account_id" gorm:"index;not null"`
	Uses      uint      `json:"uses"`
	UseLimit  uint      `json:"use_limit"`
}

// Invitee stores one inviter->invitee relation together with the commission
// accrued through it. PendingReward mirrors what was added to the inviter's
// pending invitation pool; ClaimedReward mirrors what has since been claimed.
type Invitee struct {
	CreatedAt     time.Time `json:"created_at"`
	AccountId     uint      `json:"account_id" gorm:"primaryKey;autoIncrement:false"` // inviter
	InviteeId     uint      `json:"invitee_id" gorm:"primaryKey;autoIncrement:false"`
	InviteeAddr   string    `json:"invitee_address"`
	InviteeName   string    `json:"invitee_nickname"`
	PendingReward float64   `json:"pending_reward"`
	ClaimedReward float64   `json:"claimed_reward"`
	LastActiveAt  time.Time `json:"last_active_at"`
}

// InviteStats is the aggregate view returned with the invitee feed.
type InviteStats struct {
	TotalInvitees uint    `json:"total_invitees"`
	PendingTotal  float64 `json:"pending_total"`
	ClaimedTotal  float64 `json:"claimed_total"`
	CodeUses      uint    `json:"code_uses"`
	CodeLimit     uint    `json:"code_limit"`
}
