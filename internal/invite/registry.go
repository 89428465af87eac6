package invite

import (
	"fmt"

	"github.com/dchest/uniuri"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
)

var codeChars = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

// Registry validates invite codes and binds them to accounts.
type Registry struct {
	Db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{Db: db}
}

// Issue creates the account's own shareable code. Loops until the generated
// slug is unique, the way signup allocates referral slugs.
func (r *Registry) Issue(tx *gorm.DB, acct *emomint.Account) (*emomint.InviteCode, error) {
	if acct.OwnCode != "" {
		var existing emomint.InviteCode
		res := tx.Where("code = ?", acct.OwnCode).First(&existing)
		if res.RowsAffected == 1 {
			return &existing, nil
		}
	}
	code := ""
	for {
		code = uniuri.NewLenChars(8, codeChars)
		var double emomint.InviteCode
		res := tx.Where("code = ?", code).First(&double)
		if res.RowsAffected == 1 {
			continue
		}
		break
	}
	rec := emomint.InviteCode{
		Code:      code,
		AccountId: acct.Id,
		Uses:      0,
		UseLimit:  emomint.CurrentAppConfig.Settings.Invite.UsageLimit,
	}
	if res := tx.Create(&rec); res.Error != nil {
		return nil, generr.UpdateDB
	}
	acct.OwnCode = code
	if res := tx.Save(acct); res.Error != nil {
		return nil, generr.UpdateDB
	}
	return &rec, nil
}

// Validate checks a code without touching anything. An empty code is valid
// and neutral: the contributor simply has no inviter.
func (r *Registry) Validate(code string) (*emomint.InviteCode, error) {
	if code == "" {
		return nil, nil
	}
	var rec emomint.InviteCode
	res := r.Db.Where("code = ?", code).First(&rec)
	if res.RowsAffected != 1 {
		return nil, generr.InvalidCode
	}
	if rec.Uses >= rec.UseLimit {
		return nil, generr.LimitReached
	}
	return &rec, nil
}

// Bind applies a code to an account inside the caller's transaction.
//
// persist=true counts the usage, exactly once per account: re-binding a code
// that is already persisted for the same account is a no-op on the counter.
// lock=true freezes the binding; a locked account's code can never be
// changed by any later call.
func (r *Registry) Bind(tx *gorm.DB, acct *emomint.Account, code string, lock, persist bool) error {
	if acct.InviteLocked && acct.AppliedCode != code {
		// Locked bindings are immutable; later calls keep the original.
		return nil
	}
	if code == "" {
		if lock && !acct.InviteLocked {
			acct.InviteLocked = true
			if res := tx.Save(acct); res.Error != nil {
				return generr.UpdateDB
			}
		}
		return nil
	}

	var rec emomint.InviteCode
	res := emomint.LockForUpdate(tx).Where("code = ?", code).First(&rec)
	if res.RowsAffected != 1 {
		return generr.InvalidCode
	}
	if rec.AccountId == acct.Id {
		return generr.InvalidCode
	}

	var relation emomint.Invitee
	res = tx.Where("account_id = ? AND invitee_id = ?", rec.AccountId, acct.Id).First(&relation)
	alreadyPersisted := res.RowsAffected == 1

	if rec.Uses >= rec.UseLimit && !alreadyPersisted {
		return generr.LimitReached
	}

	acct.AppliedCode = code
	acct.InvitedBy = rec.AccountId
	if lock {
		acct.InviteLocked = true
	}
	if res := tx.Save(acct); res.Error != nil {
		return generr.UpdateDB
	}

	if persist && !alreadyPersisted {
		relation = emomint.Invitee{
			AccountId:    rec.AccountId,
			InviteeId:    acct.Id,
			InviteeAddr:  acct.Address,
			InviteeName:  acct.Nickname,
			LastActiveAt: emomint.Now().UTC(),
		}
		if res := tx.Create(&relation); res.Error != nil {
			return generr.UpdateDB
		}
		rec.Uses++
		if res := tx.Save(&rec); res.Error != nil {
			return generr.UpdateDB
		}
		fmt.Printf("[Invite] code %s bound to account %d (use %d/%d)\n", rec.Code, acct.Id, rec.Uses, rec.UseLimit)
	}
	return nil
}

// Stats aggregates the inviter's commission totals for the invitee feed.
func (r *Registry) Stats(acct *emomint.Account) (stats emomint.InviteStats) {
	var invitees []emomint.Invitee
	r.Db.Where("account_id = ?", acct.Id).Find(&invitees)
	for _, inv := range invitees {
		stats.TotalInvitees++
		stats.PendingTotal += inv.PendingReward
		stats.ClaimedTotal += inv.ClaimedReward
	}
	if acct.OwnCode != "" {
		var rec emomint.InviteCode
		res := r.Db.Where("code = ?", acct.OwnCode).First(&rec)
		if res.RowsAffected == 1 {
			stats.CodeUses = rec.Uses
			stats.CodeLimit = rec.UseLimit
		}
	}
	return stats
}
