package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
)

func newTestDb(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, emomint.Migrate(db))
	return db
}

func newAccount(t *testing.T, db *gorm.DB, mutate func(*emomint.Account)) *emomint.Account {
	t.Helper()
	acct := &emomint.Account{
		Address:    "0x" + uuid.NewString()[:8],
		GasBalance: 1,
	}
	if mutate != nil {
		mutate(acct)
	}
	require.NoError(t, db.Create(acct).Error)
	return acct
}

func reload(t *testing.T, db *gorm.DB, acct *emomint.Account) *emomint.Account {
	t.Helper()
	var out emomint.Account
	require.NoError(t, db.Where("id = ?", acct.Id).First(&out).Error)
	return &out
}

// openPendingRow mimics the pipeline's confirm step: the ledger row for the
// run must exist before settlement.
func openPendingRow(t *testing.T, db *gorm.DB, ticket *emomint.ClaimTicket) {
	t.Helper()
	row := emomint.Transaction{
		Id:        ticket.TxId,
		AccountId: ticket.AccountId,
		Category:  emomint.TxClaim,
		Source:    emomint.SourceTaskReward,
		Amount:    ticket.Amount,
		Status:    emomint.TxPending,
	}
	require.NoError(t, db.Create(&row).Error)
}

func TestOpenClaimValidation(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, nil)

	_, err := led.OpenClaim(acct.Id, "stable")
	assert.ErrorIs(t, err, generr.ParseParam)

	_, err = led.OpenClaim(acct.Id, emomint.PoolTask)
	assert.ErrorIs(t, err, generr.NothingToClaim)

	require.NoError(t, db.Model(acct).Update("pending_task_rewards", 5).Error)
	require.NoError(t, db.Model(acct).Update("gas_balance", 0).Error)
	_, err = led.OpenClaim(acct.Id, emomint.PoolTask)
	assert.ErrorIs(t, err, generr.InsufficientGas)

	after := reload(t, db, acct)
	assert.Equal(t, 5.0, after.PendingTaskRewards)
	assert.Equal(t, 0.0, after.ClaimedBalance)
}

func TestOpenClaimSingleInFlight(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.PendingTaskRewards = 5
	})

	_, err := led.OpenClaim(acct.Id, emomint.PoolTask)
	require.NoError(t, err)

	_, err = led.OpenClaim(acct.Id, emomint.PoolTask)
	assert.ErrorIs(t, err, generr.ClaimInFlight)
}

func TestSettleUsesOpeningSnapshot(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.PendingTaskRewards = 5
	})

	ticket, err := led.OpenClaim(acct.Id, emomint.PoolTask)
	require.NoError(t, err)
	assert.Equal(t, 5.0, ticket.Amount)
	assert.Equal(t, emomint.StageReview, ticket.Stage)

	// Nothing moves at open time.
	mid := reload(t, db, acct)
	assert.Equal(t, 5.0, mid.PendingTaskRewards)
	assert.Equal(t, 0.0, mid.ClaimedBalance)

	// A reward landing while the run is in flight stays untouched.
	require.NoError(t, db.Model(acct).Update("pending_task_rewards", 8).Error)

	openPendingRow(t, db, ticket)
	_, settled, err := led.Settle(ticket.Id, true, "0xref", "")
	require.NoError(t, err)
	assert.Equal(t, emomint.StageSuccess, settled.Stage)
	assert.Equal(t, "0xref", settled.Reference)

	after := reload(t, db, acct)
	assert.Equal(t, 3.0, after.PendingTaskRewards)
	assert.Equal(t, 5.0, after.ClaimedBalance)
	assert.InDelta(t, 1-ticket.Gas, after.GasBalance, 1e-9)

	var row emomint.Transaction
	require.NoError(t, db.Where("id = ?", ticket.TxId).First(&row).Error)
	assert.Equal(t, emomint.TxSuccess, row.Status)
	assert.Equal(t, "0xref", row.SettlementRef)
}

func TestSettleExactlyOnce(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.PendingTaskRewards = 5
	})

	ticket, err := led.OpenClaim(acct.Id, emomint.PoolTask)
	require.NoError(t, err)
	openPendingRow(t, db, ticket)

	_, _, err = led.Settle(ticket.Id, true, "0xref", "")
	require.NoError(t, err)

	_, _, err = led.Settle(ticket.Id, true, "0xref2", "")
	assert.ErrorIs(t, err, generr.InvalidState)
	_, _, err = led.Settle(ticket.Id, false, "", "late")
	assert.ErrorIs(t, err, generr.InvalidState)

	after := reload(t, db, acct)
	assert.Equal(t, 5.0, after.ClaimedBalance)
}

func TestSettleFailureMovesNothing(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.PendingTaskRewards = 5
	})

	ticket, err := led.OpenClaim(acct.Id, emomint.PoolTask)
	require.NoError(t, err)
	openPendingRow(t, db, ticket)

	_, settled, err := led.Settle(ticket.Id, false, "", "wallet_rejected")
	require.NoError(t, err)
	assert.Equal(t, emomint.StageFailed, settled.Stage)
	assert.Equal(t, "wallet_rejected", settled.FailCode)

	after := reload(t, db, acct)
	assert.Equal(t, 5.0, after.PendingTaskRewards)
	assert.Equal(t, 0.0, after.ClaimedBalance)
	assert.Equal(t, 1.0, after.GasBalance)

	var row emomint.Transaction
	require.NoError(t, db.Where("id = ?", ticket.TxId).First(&row).Error)
	assert.Equal(t, emomint.TxFailed, row.Status)
	assert.Equal(t, "wallet_rejected", row.Message)
}

func TestRetryReusesTransactionId(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.PendingTaskRewards = 5
	})

	ticket, err := led.OpenClaim(acct.Id, emomint.PoolTask)
	require.NoError(t, err)
	openPendingRow(t, db, ticket)
	_, _, err = led.Settle(ticket.Id, false, "", "timeout")
	require.NoError(t, err)

	// Pool moved on while the run was failed; the retry keeps the original
	// snapshot anyway.
	require.NoError(t, db.Model(acct).Update("pending_task_rewards", 9).Error)

	retried, err := led.Retry(acct.Id, ticket.TxId)
	require.NoError(t, err)
	assert.Equal(t, ticket.TxId, retried.TxId)
	assert.NotEqual(t, ticket.Id, retried.Id)
	assert.Equal(t, ticket.Amount, retried.Amount)
	assert.Equal(t, emomint.StageReview, retried.Stage)

	// Only FAILED transactions are retryable.
	openRow := emomint.Transaction{
		Id:        uuid.NewString(),
		AccountId: acct.Id,
		Category:  emomint.TxClaim,
		Source:    emomint.SourceTaskReward,
		Status:    emomint.TxSuccess,
	}
	require.NoError(t, db.Create(&openRow).Error)
	_, err = led.Retry(acct.Id, openRow.Id)
	assert.ErrorIs(t, err, generr.ClaimInFlight) // retried run is still open

	_, _, err = led.Settle(retried.Id, false, "", "timeout")
	require.NoError(t, err)
	_, err = led.Retry(acct.Id, openRow.Id)
	assert.ErrorIs(t, err, generr.InvalidState)
}

func TestBonusOncePerDay(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	expires := emomint.Now().UTC().AddDate(0, 0, 10)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.ProPlan = "quarterly"
		a.ProExpiresAt = &expires
	})

	ticket, err := led.OpenBonus(acct.Id)
	require.NoError(t, err)
	assert.Equal(t, emomint.PoolBonus, ticket.Pool)
	assert.Equal(t, 1.2, ticket.Amount)

	openPendingRow(t, db, ticket)
	_, _, err = led.Settle(ticket.Id, true, "0xref", "")
	require.NoError(t, err)

	after := reload(t, db, acct)
	assert.Equal(t, emomint.Today(), after.LastBonusDay)
	assert.Equal(t, 1.2, after.ClaimedBalance)

	_, err = led.OpenBonus(acct.Id)
	assert.ErrorIs(t, err, generr.AlreadyClaimed)
}

func TestBonusFailureKeepsDayClaimable(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	expires := emomint.Now().UTC().AddDate(0, 0, 10)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.ProPlan = "monthly"
		a.ProExpiresAt = &expires
	})

	ticket, err := led.OpenBonus(acct.Id)
	require.NoError(t, err)
	openPendingRow(t, db, ticket)
	_, _, err = led.Settle(ticket.Id, false, "", "timeout")
	require.NoError(t, err)

	after := reload(t, db, acct)
	assert.Equal(t, "", after.LastBonusDay)

	_, err = led.OpenBonus(acct.Id)
	require.NoError(t, err)
}

func TestBonusRetryAfterDayClaimedFails(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	expires := emomint.Now().UTC().AddDate(0, 0, 10)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.ProPlan = "monthly"
		a.ProExpiresAt = &expires
	})

	first, err := led.OpenBonus(acct.Id)
	require.NoError(t, err)
	openPendingRow(t, db, first)
	_, _, err = led.Settle(first.Id, false, "", "wallet_rejected")
	require.NoError(t, err)

	// A fresh run claims the day while the failed one is still retryable.
	second, err := led.OpenBonus(acct.Id)
	require.NoError(t, err)
	openPendingRow(t, db, second)
	_, _, err = led.Settle(second.Id, true, "0xref", "")
	require.NoError(t, err)

	retried, err := led.Retry(acct.Id, first.TxId)
	require.NoError(t, err)
	_, ticket, err := led.Settle(retried.Id, true, "0xref2", "")
	require.NoError(t, err)
	assert.Equal(t, emomint.StageFailed, ticket.Stage)

	after := reload(t, db, acct)
	assert.Equal(t, 1.0, after.ClaimedBalance)
	assert.Equal(t, emomint.Today(), after.LastBonusDay)
}

func TestBonusRequiresPro(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, nil)

	_, err := led.OpenBonus(acct.Id)
	assert.ErrorIs(t, err, generr.ProRequired)

	expired := emomint.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, db.Model(acct).Updates(map[string]interface{}{
		"pro_plan":       "monthly",
		"pro_expires_at": expired,
	}).Error)
	_, err = led.OpenBonus(acct.Id)
	assert.ErrorIs(t, err, generr.ProRequired)
}

func TestPurchaseActivatesPlan(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.StableBalance = 20
	})

	_, err := led.OpenPurchase(acct.Id, "yearly")
	assert.ErrorIs(t, err, generr.BalanceNotEnough)

	ticket, err := led.OpenPurchase(acct.Id, "monthly")
	require.NoError(t, err)
	assert.Equal(t, 9.9, ticket.Amount)
	assert.Equal(t, 0.0, ticket.Gas)

	row := emomint.Transaction{
		Id:        ticket.TxId,
		AccountId: acct.Id,
		Category:  emomint.TxSpend,
		Source:    emomint.SourceSubscription,
		Amount:    ticket.Amount,
		Status:    emomint.TxPending,
	}
	require.NoError(t, db.Create(&row).Error)
	_, _, err = led.Settle(ticket.Id, true, "0xref", "")
	require.NoError(t, err)

	after := reload(t, db, acct)
	assert.InDelta(t, 10.1, after.StableBalance, 1e-9)
	assert.Equal(t, "monthly", after.ProPlan)
	require.NotNil(t, after.ProExpiresAt)
	assert.WithinDuration(t, emomint.Now().UTC().AddDate(0, 0, 30), *after.ProExpiresAt, time.Minute)
	assert.True(t, after.IsPro(emomint.Now().UTC()))
}

func TestInvitationAccrual(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	inviter := newAccount(t, db, nil)
	invitee := newAccount(t, db, func(a *emomint.Account) {
		a.InvitedBy = 0
	})
	require.NoError(t, db.Model(invitee).Update("invited_by", inviter.Id).Error)

	err := led.Accrue(invitee.Id, -1)
	assert.ErrorIs(t, err, generr.ParseParam)

	require.NoError(t, led.Accrue(invitee.Id, 0.14))
	require.NoError(t, led.Accrue(invitee.Id, 0.07))

	after := reload(t, db, inviter)
	assert.Equal(t, 0.21, after.PendingInviteRewards)

	var relation emomint.Invitee
	require.NoError(t, db.Where("account_id = ? AND invitee_id = ?", inviter.Id, invitee.Id).First(&relation).Error)
	assert.Equal(t, 0.21, relation.PendingReward)
}

func TestAccrualWithoutInviterIsNoop(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, nil)

	require.NoError(t, led.Accrue(acct.Id, 1))

	var count int64
	db.Model(&emomint.Transaction{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestInviteClaimMirrorsRelations(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	inviter := newAccount(t, db, nil)
	first := newAccount(t, db, nil)
	second := newAccount(t, db, nil)
	require.NoError(t, db.Model(first).Update("invited_by", inviter.Id).Error)
	require.NoError(t, db.Model(second).Update("invited_by", inviter.Id).Error)

	require.NoError(t, led.Accrue(first.Id, 0.5))
	require.NoError(t, led.Accrue(second.Id, 0.3))

	ticket, err := led.OpenClaim(inviter.Id, emomint.PoolInvite)
	require.NoError(t, err)
	assert.Equal(t, 0.8, ticket.Amount)
	openPendingRow(t, db, ticket)
	_, _, err = led.Settle(ticket.Id, true, "0xref", "")
	require.NoError(t, err)

	after := reload(t, db, inviter)
	assert.Equal(t, 0.0, after.PendingInviteRewards)
	assert.Equal(t, 0.8, after.ClaimedBalance)

	var relations []emomint.Invitee
	require.NoError(t, db.Where("account_id = ?", inviter.Id).Find(&relations).Error)
	for _, rel := range relations {
		assert.Equal(t, 0.0, rel.PendingReward)
	}
}

func TestSettleMirrorWriteFailureRollsBack(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	inviter := newAccount(t, db, nil)
	invitee := newAccount(t, db, nil)
	require.NoError(t, db.Model(invitee).Update("invited_by", inviter.Id).Error)
	require.NoError(t, led.Accrue(invitee.Id, 0.5))

	ticket, err := led.OpenClaim(inviter.Id, emomint.PoolInvite)
	require.NoError(t, err)
	openPendingRow(t, db, ticket)

	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("refuse_invitee_update", func(tx *gorm.DB) {
			if tx.Statement.Table == "invitees" {
				_ = tx.AddError(errors.New("disk full"))
			}
		}))
	defer func() {
		require.NoError(t, db.Callback().Update().Remove("refuse_invitee_update"))
	}()

	_, _, err = led.Settle(ticket.Id, true, "0xref", "")
	assert.ErrorIs(t, err, generr.UpdateDB)

	// Nothing moved, nothing terminal. The run stays settleable.
	after := reload(t, db, inviter)
	assert.Equal(t, 0.5, after.PendingInviteRewards)
	assert.Equal(t, 0.0, after.ClaimedBalance)
	var pending emomint.ClaimTicket
	require.NoError(t, db.Where("id = ?", ticket.Id).First(&pending).Error)
	assert.Equal(t, emomint.StageReview, pending.Stage)
}

func TestCommissionRate(t *testing.T) {
	assert.Equal(t, 0.14, Commission(2))
	assert.Equal(t, 0.07, Commission(1))
	assert.Equal(t, 0.105, Commission(1.5))
	assert.Equal(t, 0.0, Commission(0))
}

func TestGrantSignup(t *testing.T) {
	db := newTestDb(t)
	led := New(db)
	acct := newAccount(t, db, func(a *emomint.Account) {
		a.GasBalance = 0
	})

	tx := db.Begin()
	require.NoError(t, led.GrantSignup(tx, acct))
	require.NoError(t, tx.Save(acct).Error)
	tx.Commit()

	after := reload(t, db, acct)
	limits := emomint.CurrentAppConfig.Settings.Limits
	assert.Equal(t, limits.WelcomeEmo, after.PendingTaskRewards)
	assert.Equal(t, limits.SignupGas, after.GasBalance)
}
