package emomint

import "time"

// Pipeline stages. Transition order is fixed: Review -> Approving -> Signing
// -> Broadcasting -> Success|Failed. Review is the only stage the user can
// cancel from; everything after is driven by the wallet collaborator.
const (
	StageReview       = "Review"
	StageApproving    = "Approving"
	StageSigning      = "Signing"
	StageBroadcasting = "Broadcasting"
	StageSuccess      = "Success"
	StageFailed       = "Failed"
)

// NextStage returns the stage that follows s on the happy path, or "" when
// s is terminal or unknown.
func NextStage(s string) string {
	switch s {
	case StageReview:
		return StageApproving
	case StageApproving:
		return StageSigning
	case StageSigning:
		return StageBroadcasting
	case StageBroadcasting:
		return StageSuccess
	}
	return ""
}

func TerminalStage(s string) bool {
	return s == StageSuccess || s == StageFailed
}

// Claim pools.
const (
	PoolTask     = "task"
	PoolInvite   = "invite"
	PoolBonus    = "bonus"    // synthetic one-shot pool for the pro daily bonus
	PoolPurchase = "purchase" // subscription purchase spend
)

// ClaimTicket is one transaction-pipeline run. Amount and Gas are captured
// when the ticket is opened and never change afterwards: accruals landing in
// the pool while the run is in flight stay untouched by its settlement.
type ClaimTicket struct {
	Id        string    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountId uint      `json:"account_id" gorm:"index;not null"`
	Pool      string    `json:"pool" gorm:"not null"`
	Amount    float64   `json:"amount"` // immutable snapshot
	Gas       float64   `json:"gas"`
	Plan      string    `json:"plan"` // purchase runs only
	TxId      string    `json:"tx_id" gorm:"index"`
	Stage     string    `json:"stage" gorm:"index;not null"`
	FailCode  string    `json:"fail_code"`
	Reference string    `json:"settlement_ref"`
}
