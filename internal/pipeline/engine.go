package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/evm"
	"github.com/emomint/backend/internal/generr"
	"github.com/emomint/backend/internal/ledger"
)

// Enqueuer is the slice of asynq.Client the engine needs; tests swap in a
// recorder.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Engine runs the staged confirmation pipeline: Review -> Approving ->
// Signing -> Broadcasting -> {Success, Failed}. Review is the only
// cancellable stage; after Approving the wallet collaborator (here: the
// asynq-simulated one, or the /wallet/event webhook) owns the run. Each run
// reaches exactly one terminal state and triggers exactly one Settle call.
type Engine struct {
	Db     *gorm.DB
	Ledger *ledger.Ledger
	Aqc    Enqueuer
	Rdb    *redis.Client // nil disables notifications
}

func NewEngine(db *gorm.DB, led *ledger.Ledger, aqc Enqueuer, rdb *redis.Client) *Engine {
	return &Engine{Db: db, Ledger: led, Aqc: aqc, Rdb: rdb}
}

func (e *Engine) loadTicket(tx *gorm.DB, ticketId string) (*emomint.ClaimTicket, error) {
	var ticket emomint.ClaimTicket
	res := emomint.LockForUpdate(tx).Where("id = ?", ticketId).First(&ticket)
	if res.RowsAffected != 1 {
		return nil, generr.NotFound
	}
	return &ticket, nil
}

// Cancel aborts a run still sitting in Review. No ledger row exists yet, so
// the abort is side-effect free.
func (e *Engine) Cancel(accountId uint, ticketId string) error {
	tx := e.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	ticket, err := e.loadTicket(tx, ticketId)
	if err != nil {
		return err
	}
	if ticket.AccountId != accountId {
		return generr.NotFound
	}
	if ticket.Stage != emomint.StageReview {
		return generr.InvalidState
	}
	if res := tx.Delete(&emomint.ClaimTicket{}, "id = ?", ticket.Id); res.Error != nil {
		return generr.UpdateDB
	}
	tx.Commit()
	return nil
}

// Confirm moves a run from Review into Approving, appends the PENDING
// ledger row (or reopens the FAILED one on retry) and schedules the
// simulated wallet stages plus the timeout watchdog.
func (e *Engine) Confirm(accountId uint, ticketId string) (*emomint.ClaimTicket, error) {
	tx := e.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	ticket, err := e.loadTicket(tx, ticketId)
	if err != nil {
		return nil, err
	}
	if ticket.AccountId != accountId {
		return nil, generr.NotFound
	}
	if ticket.Stage != emomint.StageReview {
		return nil, generr.InvalidState
	}

	var txRow emomint.Transaction
	res := tx.Where("id = ?", ticket.TxId).First(&txRow)
	if res.RowsAffected == 1 {
		// Retry of a FAILED transaction: same id, same amount, no new row.
		if txRow.Status != emomint.TxFailed {
			return nil, generr.InvalidState
		}
		txRow.Status = emomint.TxPending
		txRow.Message = ""
		if res := tx.Save(&txRow); res.Error != nil {
			return nil, generr.UpdateDB
		}
	} else {
		txRow = emomint.Transaction{
			Id:        ticket.TxId,
			AccountId: ticket.AccountId,
			Category:  txCategory(ticket.Pool),
			Source:    txSource(ticket.Pool),
			Amount:    ticket.Amount,
			Cost:      costString(ticket),
			Status:    emomint.TxPending,
			Message:   txDescription(ticket),
		}
		if res := tx.Create(&txRow); res.Error != nil {
			return nil, generr.UpdateDB
		}
	}

	ticket.Stage = emomint.StageApproving
	if res := tx.Save(ticket); res.Error != nil {
		return nil, generr.UpdateDB
	}
	tx.Commit()

	timing := emomint.CurrentAppConfig.Settings.Pipeline
	stageDelay := time.Duration(timing.StageSeconds) * time.Second
	if e.Aqc != nil {
		task, opts := NewStageTask(ticket.Id, emomint.StageSigning, stageDelay)
		if _, err := e.Aqc.Enqueue(task, opts...); err != nil {
			fmt.Println("[Pipeline] enqueue failed:", err)
		}
		watchdog, wopts := NewTimeoutTask(ticket.Id, time.Duration(timing.TimeoutSeconds)*time.Second)
		if _, err := e.Aqc.Enqueue(watchdog, wopts...); err != nil {
			fmt.Println("[Pipeline] watchdog enqueue failed:", err)
		}
	}
	return ticket, nil
}

// Advance applies one non-terminal stage transition delivered by the wallet
// collaborator. The order is fixed; skipping a stage is refused.
func (e *Engine) Advance(ticketId string, toStage string) error {
	if toStage != emomint.StageSigning && toStage != emomint.StageBroadcasting {
		return generr.ParseParam
	}
	tx := e.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	ticket, err := e.loadTicket(tx, ticketId)
	if err != nil {
		return err
	}
	if emomint.TerminalStage(ticket.Stage) {
		return generr.InvalidState
	}
	if emomint.NextStage(ticket.Stage) != toStage {
		return generr.InvalidState
	}
	ticket.Stage = toStage
	if res := tx.Save(ticket); res.Error != nil {
		return generr.UpdateDB
	}
	tx.Commit()
	return nil
}

// Complete resolves a run. Success is only accepted from Broadcasting;
// failure is accepted from any post-Review, non-terminal stage (timeouts
// fire while the run is still Approving).
func (e *Engine) Complete(ticketId string, success bool, ref string, failCode string) error {
	var ticket emomint.ClaimTicket
	res := e.Db.Where("id = ?", ticketId).First(&ticket)
	if res.RowsAffected != 1 {
		return generr.NotFound
	}
	if emomint.TerminalStage(ticket.Stage) {
		return generr.InvalidState
	}
	if ticket.Stage == emomint.StageReview {
		return generr.InvalidState
	}
	if success && ticket.Stage != emomint.StageBroadcasting {
		return generr.InvalidState
	}

	acct, settled, err := e.Ledger.Settle(ticket.Id, success, ref, failCode)
	if err != nil {
		return err
	}
	e.notifySettled(acct, settled)
	return nil
}

// RegisterHandlers wires the engine into the worker's asynq mux.
func (e *Engine) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeStageAdvance, e.HandleStageAdvance)
	mux.HandleFunc(TypeRunTimeout, e.HandleTimeout)
}

// HandleStageAdvance is the simulated wallet collaborator: it walks the run
// through Signing and Broadcasting with the configured latency and then
// broadcasts, deriving a deterministic settlement hash.
func (e *Engine) HandleStageAdvance(ctx context.Context, t *asynq.Task) error {
	var p StagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	stageDelay := time.Duration(emomint.CurrentAppConfig.Settings.Pipeline.StageSeconds) * time.Second

	switch p.Stage {
	case emomint.StageSigning, emomint.StageBroadcasting:
		if err := e.Advance(p.TicketId, p.Stage); err != nil {
			if errors.Is(err, generr.InvalidState) || errors.Is(err, generr.NotFound) {
				return nil // run already resolved or cancelled; drop the event
			}
			return err
		}
		next := emomint.StageBroadcasting
		if p.Stage == emomint.StageBroadcasting {
			next = emomint.StageSuccess
		}
		if e.Aqc != nil {
			task, opts := NewStageTask(p.TicketId, next, stageDelay)
			if _, err := e.Aqc.Enqueue(task, opts...); err != nil {
				return err
			}
		}
		return nil
	case emomint.StageSuccess:
		var ticket emomint.ClaimTicket
		res := e.Db.Where("id = ?", p.TicketId).First(&ticket)
		if res.RowsAffected != 1 {
			return nil
		}
		ref := evm.SettlementHash(ticket.Id, ticket.TxId, fmt.Sprintf("%f", ticket.Amount))
		if err := e.Complete(p.TicketId, true, ref, ""); err != nil {
			if errors.Is(err, generr.InvalidState) || errors.Is(err, generr.NotFound) {
				return nil
			}
			return err
		}
		return nil
	}
	return nil
}

// HandleTimeout resolves a run that never reached a terminal stage. A
// timeout is a Failed outcome, never an indeterminate one.
func (e *Engine) HandleTimeout(ctx context.Context, t *asynq.Task) error {
	var p TimeoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	err := e.Complete(p.TicketId, false, "", "timeout")
	if err != nil && !errors.Is(err, generr.InvalidState) && !errors.Is(err, generr.NotFound) {
		return err
	}
	return nil
}

func (e *Engine) notifySettled(acct *emomint.Account, ticket *emomint.ClaimTicket) {
	if acct == nil || ticket == nil {
		return
	}
	if e.Rdb != nil {
		data := emomint.NotificationData{
			Style:   emomint.MessageStyleSuccess,
			Type:    emomint.MessageTypeClaimSettled,
			Message: txDescription(ticket),
			Emo:     ticket.Amount,
		}
		if ticket.Stage == emomint.StageFailed {
			data.Style = emomint.MessageStyleError
			data.Type = emomint.MessageTypeClaimFailed
			data.Message = ticket.FailCode
		} else if ticket.Pool == emomint.PoolBonus {
			data.Type = emomint.MessageTypeBonusSettled
		}
		emomint.PushNotification(e.Rdb, acct, data)
	}
	if ticket.Stage == emomint.StageSuccess {
		msg := fmt.Sprintf(
			`CLAIM SETTLED %s
Account: %d
Amount: %s
Ref: %s`,
			ticket.Pool,
			acct.Id,
			emomint.EscapeMarkdownV2(fmt.Sprintf("%f", ticket.Amount)),
			emomint.EscapeMarkdownV2(evm.ShortRef(ticket.Reference)),
		)
		if err := emomint.SendTelegramMessage(msg, "finance"); err != nil {
			fmt.Println(err)
		}
	}
}

func txCategory(pool string) string {
	if pool == emomint.PoolPurchase {
		return emomint.TxSpend
	}
	return emomint.TxClaim
}

func txSource(pool string) string {
	switch pool {
	case emomint.PoolTask:
		return emomint.SourceTaskReward
	case emomint.PoolInvite:
		return emomint.SourceInvitation
	case emomint.PoolBonus:
		return emomint.SourceDailyBonus
	case emomint.PoolPurchase:
		return emomint.SourceSubscription
	}
	return ""
}

func costString(ticket *emomint.ClaimTicket) string {
	if ticket.Pool == emomint.PoolPurchase {
		return fmt.Sprintf("%.2f USD", ticket.Amount)
	}
	return fmt.Sprintf("%.6f gas", ticket.Gas)
}

func txDescription(ticket *emomint.ClaimTicket) string {
	switch ticket.Pool {
	case emomint.PoolTask:
		return "Claim of pending task rewards"
	case emomint.PoolInvite:
		return "Claim of pending invitation rewards"
	case emomint.PoolBonus:
		return "Pro daily bonus"
	case emomint.PoolPurchase:
		return fmt.Sprintf("Subscription purchase (%s)", ticket.Plan)
	}
	return ""
}
