package emomint

import "time"

const (
	TxIssuance = "ISSUANCE"
	TxClaim    = "CLAIM"
	TxSpend    = "SPEND"
)

const (
	SourceTaskReward   = "TaskReward"
	SourceDailyBonus   = "ProDailyBonus"
	SourceInvitation   = "Invitation"
	SourceSubscription = "SubscriptionPurchase"
)

const (
	TxPending = "PENDING"
	TxSuccess = "SUCCESS"
	TxFailed  = "FAILED"
)

// Transaction is an append-only ledger row. Rows are never deleted; a CLAIM
// row moves PENDING -> SUCCESS/FAILED and a FAILED claim is retried under
// the same id rather than minting a new row.
type Transaction struct {
	Id            string    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	AccountId     uint      `json:"account_id" gorm:"index;not null"`
	Category      string    `json:"category" gorm:"not null"` // ISSUANCE, CLAIM, SPEND
	Source        string    `json:"source" gorm:"not null"`
	Amount        float64   `json:"amount"`
	Cost          string    `json:"cost"` // formatted gas or fiat cost, optional
	Status        string    `json:"status" gorm:"index;not null"`
	SettlementRef string    `json:"settlement_ref"`
	Message       string    `json:"message"`
}
