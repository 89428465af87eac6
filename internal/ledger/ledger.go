package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
)

// Ledger owns every balance mutation. All writes happen inside one DB
// transaction under a row lock on the account, so partial application (gas
// charged but reward not credited) cannot be observed.
type Ledger struct {
	Db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{Db: db}
}

func (l *Ledger) lockAccount(tx *gorm.DB, accountId uint) (*emomint.Account, error) {
	var acct emomint.Account
	res := emomint.LockForUpdate(tx).Where("id = ?", accountId).First(&acct)
	if res.RowsAffected != 1 {
		return nil, generr.NotFound
	}
	return &acct, nil
}

// inFlight reports whether the account already has a non-terminal pipeline
// run. At most one runs per account at a time.
func (l *Ledger) inFlight(tx *gorm.DB, accountId uint) bool {
	var ticket emomint.ClaimTicket
	res := tx.Where(
		"account_id = ? AND stage NOT IN ?",
		accountId,
		[]string{emomint.StageSuccess, emomint.StageFailed},
	).First(&ticket)
	return res.RowsAffected == 1
}

// OpenClaim snapshots the named pending pool into a new Review-stage ticket.
// Nothing is deducted here; balances move only at settlement.
func (l *Ledger) OpenClaim(accountId uint, pool string) (*emomint.ClaimTicket, error) {
	if pool != emomint.PoolTask && pool != emomint.PoolInvite {
		return nil, generr.ParseParam
	}
	tx := l.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	acct, err := l.lockAccount(tx, accountId)
	if err != nil {
		return nil, err
	}
	if l.inFlight(tx, accountId) {
		return nil, generr.ClaimInFlight
	}
	amount := acct.PendingTaskRewards
	if pool == emomint.PoolInvite {
		amount = acct.PendingInviteRewards
	}
	if amount <= 0 {
		return nil, generr.NothingToClaim
	}
	gas := emomint.CurrentAppConfig.Settings.Limits.ClaimGas
	if acct.GasBalance < gas {
		return nil, generr.InsufficientGas
	}
	ticket := emomint.ClaimTicket{
		Id:        uuid.NewString(),
		AccountId: accountId,
		Pool:      pool,
		Amount:    amount,
		Gas:       gas,
		TxId:      uuid.NewString(),
		Stage:     emomint.StageReview,
	}
	if res := tx.Create(&ticket); res.Error != nil {
		return nil, generr.UpdateDB
	}
	tx.Commit()
	fmt.Printf("[Claim] opened ticket %s pool=%s amount=%v for account %d\n", ticket.Id, pool, amount, accountId)
	return &ticket, nil
}

// OpenBonus opens the pro daily bonus as a claim against a synthetic
// one-shot pool. The bonus day is recorded at settlement, so a failed run
// stays retryable within the same day.
func (l *Ledger) OpenBonus(accountId uint) (*emomint.ClaimTicket, error) {
	tx := l.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	acct, err := l.lockAccount(tx, accountId)
	if err != nil {
		return nil, err
	}
	if !acct.IsPro(emomint.Now().UTC()) {
		return nil, generr.ProRequired
	}
	if acct.LastBonusDay == emomint.Today() {
		return nil, generr.AlreadyClaimed
	}
	if l.inFlight(tx, accountId) {
		return nil, generr.ClaimInFlight
	}
	amount := planSpec(acct.ProPlan).DailyBonus
	if amount <= 0 {
		return nil, generr.ProRequired
	}
	gas := emomint.CurrentAppConfig.Settings.Limits.ClaimGas
	if acct.GasBalance < gas {
		return nil, generr.InsufficientGas
	}
	ticket := emomint.ClaimTicket{
		Id:        uuid.NewString(),
		AccountId: accountId,
		Pool:      emomint.PoolBonus,
		Amount:    amount,
		Gas:       gas,
		Plan:      acct.ProPlan,
		TxId:      uuid.NewString(),
		Stage:     emomint.StageReview,
	}
	if res := tx.Create(&ticket); res.Error != nil {
		return nil, generr.UpdateDB
	}
	tx.Commit()
	return &ticket, nil
}

// OpenPurchase opens a subscription purchase run. The stable price is spent
// at settlement, together with plan activation.
func (l *Ledger) OpenPurchase(accountId uint, plan string) (*emomint.ClaimTicket, error) {
	spec := planSpec(plan)
	if spec.Days == 0 {
		return nil, generr.ParseParam
	}
	tx := l.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	acct, err := l.lockAccount(tx, accountId)
	if err != nil {
		return nil, err
	}
	if l.inFlight(tx, accountId) {
		return nil, generr.ClaimInFlight
	}
	if acct.StableBalance < spec.Price {
		return nil, generr.BalanceNotEnough
	}
	ticket := emomint.ClaimTicket{
		Id:        uuid.NewString(),
		AccountId: accountId,
		Pool:      emomint.PoolPurchase,
		Amount:    spec.Price,
		Gas:       0,
		Plan:      plan,
		TxId:      uuid.NewString(),
		Stage:     emomint.StageReview,
	}
	if res := tx.Create(&ticket); res.Error != nil {
		return nil, generr.UpdateDB
	}
	tx.Commit()
	return &ticket, nil
}

// Retry reopens a FAILED transaction under the same transaction id and the
// originally captured amount. Only FAILED transactions are retryable.
func (l *Ledger) Retry(accountId uint, txId string) (*emomint.ClaimTicket, error) {
	tx := l.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	acct, err := l.lockAccount(tx, accountId)
	if err != nil {
		return nil, err
	}
	if l.inFlight(tx, accountId) {
		return nil, generr.ClaimInFlight
	}
	var txRow emomint.Transaction
	res := tx.Where("id = ? AND account_id = ?", txId, accountId).First(&txRow)
	if res.RowsAffected != 1 {
		return nil, generr.NotFound
	}
	if txRow.Status != emomint.TxFailed {
		return nil, generr.InvalidState
	}
	var prior emomint.ClaimTicket
	res = tx.Where("tx_id = ?", txId).Order("created_at DESC").First(&prior)
	if res.RowsAffected != 1 {
		return nil, generr.InvalidState
	}
	if prior.Gas > 0 && acct.GasBalance < prior.Gas {
		return nil, generr.InsufficientGas
	}
	ticket := emomint.ClaimTicket{
		Id:        uuid.NewString(),
		AccountId: accountId,
		Pool:      prior.Pool,
		Amount:    prior.Amount, // snapshot carried over, not re-read
		Gas:       prior.Gas,
		Plan:      prior.Plan,
		TxId:      txId,
		Stage:     emomint.StageReview,
	}
	if res := tx.Create(&ticket); res.Error != nil {
		return nil, generr.UpdateDB
	}
	tx.Commit()
	return &ticket, nil
}

// Settle is called exactly once per pipeline run, on its terminal state. On
// success it moves the captured amount out of the pool, credits the claimed
// balance and charges gas, atomically. On failure nothing moves.
func (l *Ledger) Settle(ticketId string, success bool, ref string, failCode string) (*emomint.Account, *emomint.ClaimTicket, error) {
	tx := l.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	var ticket emomint.ClaimTicket
	res := emomint.LockForUpdate(tx).Where("id = ?", ticketId).First(&ticket)
	if res.RowsAffected != 1 {
		return nil, nil, generr.NotFound
	}
	if emomint.TerminalStage(ticket.Stage) {
		return nil, nil, generr.InvalidState
	}
	acct, err := l.lockAccount(tx, ticket.AccountId)
	if err != nil {
		return nil, nil, err
	}
	var txRow emomint.Transaction
	res = tx.Where("id = ?", ticket.TxId).First(&txRow)
	if res.RowsAffected != 1 {
		return nil, nil, generr.InvalidState
	}

	if success {
		if err := l.applySuccess(tx, acct, &ticket); err != nil {
			if errors.Is(err, generr.UpdateDB) {
				return nil, nil, err
			}
			// Precondition decayed while in flight; resolve as Failed
			// rather than leave the run indeterminate.
			success = false
			failCode = err.Error()
			ref = ""
		}
	}

	if success {
		ticket.Stage = emomint.StageSuccess
		ticket.Reference = ref
		txRow.Status = emomint.TxSuccess
		txRow.SettlementRef = ref
	} else {
		ticket.Stage = emomint.StageFailed
		ticket.FailCode = failCode
		txRow.Status = emomint.TxFailed
		txRow.Message = failCode
	}
	if res := tx.Save(&ticket); res.Error != nil {
		return nil, nil, generr.UpdateDB
	}
	if res := tx.Save(&txRow); res.Error != nil {
		return nil, nil, generr.UpdateDB
	}
	if res := tx.Save(acct); res.Error != nil {
		return nil, nil, generr.UpdateDB
	}
	tx.Commit()
	fmt.Printf("[Claim] settled ticket %s stage=%s amount=%v account=%d\n", ticket.Id, ticket.Stage, ticket.Amount, acct.Id)
	return acct, &ticket, nil
}

func (l *Ledger) applySuccess(tx *gorm.DB, acct *emomint.Account, ticket *emomint.ClaimTicket) error {
	if ticket.Gas > 0 && acct.GasBalance < ticket.Gas {
		return generr.InsufficientGas
	}
	switch ticket.Pool {
	case emomint.PoolTask:
		if acct.PendingTaskRewards < ticket.Amount {
			return generr.InvalidState
		}
		acct.PendingTaskRewards = emomint.RoundFloat(acct.PendingTaskRewards-ticket.Amount, 6)
		acct.ClaimedBalance += ticket.Amount
	case emomint.PoolInvite:
		if acct.PendingInviteRewards < ticket.Amount {
			return generr.InvalidState
		}
		acct.PendingInviteRewards = emomint.RoundFloat(acct.PendingInviteRewards-ticket.Amount, 6)
		acct.ClaimedBalance += ticket.Amount
		if err := l.mirrorInviteeClaims(tx, acct.Id, ticket.Amount); err != nil {
			return err
		}
	case emomint.PoolBonus:
		// A bonus run opened before the day was claimed can settle after a
		// fresh one already claimed it; refuse the second credit.
		if acct.LastBonusDay == emomint.Today() {
			return generr.AlreadyClaimed
		}
		acct.ClaimedBalance += ticket.Amount
		acct.LastBonusDay = emomint.Today()
	case emomint.PoolPurchase:
		if acct.StableBalance < ticket.Amount {
			return generr.BalanceNotEnough
		}
		spec := planSpec(ticket.Plan)
		if spec.Days == 0 {
			return generr.InvalidState
		}
		acct.StableBalance = emomint.RoundFloat(acct.StableBalance-ticket.Amount, 6)
		acct.ProPlan = ticket.Plan
		acct.ProExpiresAt = extendExpiry(acct.ProExpiresAt, spec.Days)
	default:
		return generr.InvalidState
	}
	if ticket.Gas > 0 {
		acct.GasBalance = emomint.RoundFloat(acct.GasBalance-ticket.Gas, 8)
	}
	return nil
}

// mirrorInviteeClaims moves the claimed amount from per-invitee pending
// mirrors to their claimed mirrors, oldest relation first. A failed mirror
// write fails the settlement; the mirrors must stay in step with the pool.
func (l *Ledger) mirrorInviteeClaims(tx *gorm.DB, inviterId uint, amount float64) error {
	var invitees []emomint.Invitee
	tx.Where("account_id = ? AND pending_reward > 0", inviterId).
		Order("created_at ASC").
		Find(&invitees)
	remaining := amount
	for i := range invitees {
		if remaining <= 0 {
			break
		}
		take := invitees[i].PendingReward
		if take > remaining {
			take = remaining
		}
		invitees[i].PendingReward = emomint.RoundFloat(invitees[i].PendingReward-take, 6)
		invitees[i].ClaimedReward = emomint.RoundFloat(invitees[i].ClaimedReward+take, 6)
		remaining = emomint.RoundFloat(remaining-take, 6)
		if res := tx.Save(&invitees[i]); res.Error != nil {
			return generr.UpdateDB
		}
	}
	return nil
}
