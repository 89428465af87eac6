package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
)

func planSpec(plan string) emomint.PlanSpec {
	plans := emomint.CurrentAppConfig.Settings.Plans
	switch plan {
	case "monthly":
		return plans.Monthly
	case "quarterly":
		return plans.Quarterly
	case "yearly":
		return plans.Yearly
	}
	return emomint.PlanSpec{}
}

func extendExpiry(current *time.Time, days int) *time.Time {
	base := emomint.Now().UTC()
	if current != nil && current.After(base) {
		base = *current
	}
	expires := base.AddDate(0, 0, days)
	return &expires
}

// Commission computes the inviter's cut of an invitee task reward. Decimal
// arithmetic keeps repeated 7% accruals from drifting.
func Commission(reward float64) float64 {
	rate := decimal.NewFromFloat(emomint.CurrentAppConfig.Settings.Invite.Commission)
	cut := decimal.NewFromFloat(reward).Mul(rate).Round(6)
	out, _ := cut.Float64()
	return out
}

// IssueTaskReward credits the contributor's pending task pool for a labeled
// task and appends the ISSUANCE row. Runs inside the caller's transaction;
// the caller holds the account lock.
func (l *Ledger) IssueTaskReward(tx *gorm.DB, acct *emomint.Account, task *emomint.Task) error {
	if task.Reward <= 0 {
		return generr.InvalidState
	}
	acct.PendingTaskRewards = emomint.RoundFloat(acct.PendingTaskRewards+task.Reward, 6)
	acct.TasksLabeled++
	row := emomint.Transaction{
		Id:        uuid.NewString(),
		AccountId: acct.Id,
		Category:  emomint.TxIssuance,
		Source:    emomint.SourceTaskReward,
		Amount:    task.Reward,
		Status:    emomint.TxSuccess,
		Message:   fmt.Sprintf("Labeling reward, %s task %s", task.Emotion, task.Id),
	}
	if res := tx.Create(&row); res.Error != nil {
		return generr.UpdateDB
	}
	return nil
}

// RecordInvitationAccrual credits the invitee's inviter inside the caller's
// transaction. The accrual event itself comes from outside the ledger; only
// amount > 0 is validated here.
func (l *Ledger) RecordInvitationAccrual(tx *gorm.DB, invitee *emomint.Account, amount float64) error {
	if amount <= 0 {
		return generr.ParseParam
	}
	if invitee.InvitedBy == 0 {
		return nil
	}
	inviter, err := l.lockAccount(tx, invitee.InvitedBy)
	if err != nil {
		return err
	}
	inviter.PendingInviteRewards = emomint.RoundFloat(inviter.PendingInviteRewards+amount, 6)
	if res := tx.Save(inviter); res.Error != nil {
		return generr.UpdateDB
	}

	var relation emomint.Invitee
	res := tx.Where("account_id = ? AND invitee_id = ?", inviter.Id, invitee.Id).First(&relation)
	if res.RowsAffected != 1 {
		relation = emomint.Invitee{
			AccountId:   inviter.Id,
			InviteeId:   invitee.Id,
			InviteeAddr: invitee.Address,
			InviteeName: invitee.Nickname,
		}
	}
	relation.PendingReward = emomint.RoundFloat(relation.PendingReward+amount, 6)
	relation.LastActiveAt = emomint.Now().UTC()
	if res := tx.Save(&relation); res.Error != nil {
		return generr.UpdateDB
	}

	row := emomint.Transaction{
		Id:        uuid.NewString(),
		AccountId: inviter.Id,
		Category:  emomint.TxIssuance,
		Source:    emomint.SourceInvitation,
		Amount:    amount,
		Status:    emomint.TxSuccess,
		Message:   fmt.Sprintf("Invitation commission from account %d", invitee.Id),
	}
	if res := tx.Create(&row); res.Error != nil {
		return generr.UpdateDB
	}
	return nil
}

// Accrue is the standalone entry used by the external accrual notifier.
func (l *Ledger) Accrue(inviteeId uint, amount float64) error {
	tx := l.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	invitee, err := l.lockAccount(tx, inviteeId)
	if err != nil {
		return err
	}
	if err := l.RecordInvitationAccrual(tx, invitee, amount); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// GrantSignup seeds a fresh account with the welcome issuance and starter
// gas so the first claim can be tried out without funding.
func (l *Ledger) GrantSignup(tx *gorm.DB, acct *emomint.Account) error {
	limits := emomint.CurrentAppConfig.Settings.Limits
	if limits.WelcomeEmo > 0 {
		acct.PendingTaskRewards = emomint.RoundFloat(acct.PendingTaskRewards+limits.WelcomeEmo, 6)
		row := emomint.Transaction{
			Id:        uuid.NewString(),
			AccountId: acct.Id,
			Category:  emomint.TxIssuance,
			Source:    emomint.SourceTaskReward,
			Amount:    limits.WelcomeEmo,
			Status:    emomint.TxSuccess,
			Message:   "Welcome issuance",
		}
		if res := tx.Create(&row); res.Error != nil {
			return generr.UpdateDB
		}
	}
	acct.GasBalance = emomint.RoundFloat(acct.GasBalance+limits.SignupGas, 8)
	return nil
}
