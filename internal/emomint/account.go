package emomint

import (
	"regexp"
	"time"

	"gorm.io/gorm"
)

var NicknameCheck = regexp.MustCompile(`^[0-9A-Za-z]{1,15}$`)

type Account struct {
	Id        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
	Address   string         `gorm:"uniqueIndex;not null" json:"address"`
	Nickname  string         `gorm:"index" json:"nickname"`
	Locale    string         `json:"locale"`
	Ip        string         `json:"ip"`

	// Pro subscription
	ProPlan      string     `json:"pro_plan"` // "", "monthly", "quarterly", "yearly"
	ProExpiresAt *time.Time `json:"pro_expires_at"`

	// Balances. All of them stay >= 0 at every observable instant.
	PendingTaskRewards   float64 `json:"pending_task_rewards"`
	PendingInviteRewards float64 `json:"pending_invite_rewards"`
	ClaimedBalance       float64 `json:"claimed_balance"` // on-chain EMO
	GasBalance           float64 `json:"gas_balance"`
	StableBalance        float64 `json:"stable_balance"`

	LastBonusDay      string `json:"last_bonus_day"`       // YYYY-MM-DD, UTC
	LastQuotaResetDay string `json:"last_quota_reset_day"` // YYYY-MM-DD, UTC

	// Per-category submission counters for the current quota day.
	QuotaHappy     uint `json:"quota_happy"`
	QuotaSad       uint `json:"quota_sad"`
	QuotaAngry     uint `json:"quota_angry"`
	QuotaSurprised uint `json:"quota_surprised"`
	QuotaFearful   uint `json:"quota_fearful"`
	QuotaDisgusted uint `json:"quota_disgusted"`
	QuotaNeutral   uint `json:"quota_neutral"`

	// Invite binding. InviteLocked only ever flips false -> true.
	AppliedCode  string `json:"applied_code"`
	InvitedBy    uint   `json:"invited_by"`
	InviteLocked bool   `json:"invite_locked"`
	OwnCode      string `gorm:"index" json:"own_code"`

	TasksLabeled uint `json:"tasks_labeled"`
}

// IsPro reports whether the account has an unexpired paid plan.
func (a *Account) IsPro(now time.Time) bool {
	return a.ProPlan != "" && a.ProExpiresAt != nil && a.ProExpiresAt.After(now)
}

// QuotaCount returns the current submission counter for a category.
func (a *Account) QuotaCount(e Emotion) uint {
	switch e {
	case EmotionHappy:
		return a.QuotaHappy
	case EmotionSad:
		return a.QuotaSad
	case EmotionAngry:
		return a.QuotaAngry
	case EmotionSurprised:
		return a.QuotaSurprised
	case EmotionFearful:
		return a.QuotaFearful
	case EmotionDisgusted:
		return a.QuotaDisgusted
	case EmotionNeutral:
		return a.QuotaNeutral
	}
	return 0
}

// BumpQuota increments the submission counter for a category.
func (a *Account) BumpQuota(e Emotion) {
	switch e {
	case EmotionHappy:
		a.QuotaHappy++
	case EmotionSad:
		a.QuotaSad++
	case EmotionAngry:
		a.QuotaAngry++
	case EmotionSurprised:
		a.QuotaSurprised++
	case EmotionFearful:
		a.QuotaFearful++
	case EmotionDisgusted:
		a.QuotaDisgusted++
	case EmotionNeutral:
		a.QuotaNeutral++
	}
}

// ResetQuota zeroes every counter and stamps the new quota day. Callers must
// hold the account row lock so reset and the following check are one step.
func (a *Account) ResetQuota(day string) {
	a.QuotaHappy = 0
	a.QuotaSad = 0
	a.QuotaAngry = 0
	a.QuotaSurprised = 0
	a.QuotaFearful = 0
	a.QuotaDisgusted = 0
	a.QuotaNeutral = 0
	a.LastQuotaResetDay = day
}

// AccountData is the read model pushed to the dashboard over /ws and
// returned by /users/me.
type AccountData struct {
	ID             uint            `json:"id"`
	Address        string          `json:"address"`
	Nickname       string          `json:"nickname"`
	ProPlan        string          `json:"pro_plan"`
	PendingTask    float64         `json:"pending_task_rewards"`
	PendingInvite  float64         `json:"pending_invite_rewards"`
	ClaimedBalance float64         `json:"claimed_balance"`
	GasBalance     float64         `json:"gas_balance"`
	StableBalance  float64         `json:"stable_balance"`
	TasksLabeled   uint            `json:"tasks_labeled"`
	OwnCode        string          `json:"invite_code"`
	Quota          map[string]uint `json:"quota"`
}

func Snapshot(a *Account) AccountData {
	quota := make(map[string]uint, len(Emotions))
	for _, e := range Emotions {
		quota[string(e)] = a.QuotaCount(e)
	}
	return AccountData{
		ID:             a.Id,
		Address:        a.Address,
		Nickname:       a.Nickname,
		ProPlan:        a.ProPlan,
		PendingTask:    a.PendingTaskRewards,
		PendingInvite:  a.PendingInviteRewards,
		ClaimedBalance: a.ClaimedBalance,
		GasBalance:     a.GasBalance,
		StableBalance:  a.StableBalance,
		TasksLabeled:   a.TasksLabeled,
		OwnCode:        a.OwnCode,
		Quota:          quota,
	}
}
