package taskflow

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
	"github.com/emomint/backend/internal/ledger"
)

// Dispatcher hands a submitted task to the grading oracle. The verdict
// comes back asynchronously through Manager.Verdict.
type Dispatcher interface {
	Dispatch(task emomint.Task)
}

// Manager owns the labeling-task lifecycle: draft editing, submission with
// quota enforcement, and verdict consumption.
type Manager struct {
	Db     *gorm.DB
	Ledger *ledger.Ledger
	Oracle Dispatcher
	Rdb    *redis.Client // nil disables notifications
}

func NewManager(db *gorm.DB, led *ledger.Ledger, oracle Dispatcher, rdb *redis.Client) *Manager {
	return &Manager{Db: db, Ledger: led, Oracle: oracle, Rdb: rdb}
}

// DraftParams carries the capture reference plus whatever annotation fields
// the contributor has filled in so far. Nil means "not set yet".
type DraftParams struct {
	Id         string          `json:"id"`
	Emotion    emomint.Emotion `json:"emotion"`
	CaptureRef string          `json:"capture_ref"`
	Clarity    *bool           `json:"clarity"`
	Staged     *bool           `json:"staged"`
	Intensity  *int            `json:"intensity"`
	Continuity *int            `json:"continuity"`
}

func validRange(v *int) bool {
	return v == nil || (*v >= 0 && *v <= 100)
}

// CreateOrUpdateDraft upserts a draft. Always legal regardless of quota;
// drafts consume nothing. Idempotent on the task id.
func (m *Manager) CreateOrUpdateDraft(accountId uint, p DraftParams) (*emomint.Task, error) {
	if !emomint.ValidEmotion(p.Emotion) {
		return nil, generr.BadEmotion
	}
	if !validRange(p.Intensity) || !validRange(p.Continuity) {
		return nil, generr.Validation
	}
	var task emomint.Task
	if p.Id != "" {
		res := m.Db.Where("id = ? AND account_id = ?", p.Id, accountId).First(&task)
		if res.RowsAffected == 1 {
			if task.Status != emomint.TaskDraft {
				return nil, generr.InvalidState
			}
		} else {
			task = emomint.Task{Id: p.Id, AccountId: accountId, Status: emomint.TaskDraft}
		}
	} else {
		task = emomint.Task{Id: uuid.NewString(), AccountId: accountId, Status: emomint.TaskDraft}
	}
	task.Emotion = p.Emotion
	if p.CaptureRef != "" {
		task.CaptureRef = p.CaptureRef
	}
	if p.Clarity != nil {
		task.Clarity = p.Clarity
	}
	if p.Staged != nil {
		task.Staged = p.Staged
	}
	if p.Intensity != nil {
		task.Intensity = p.Intensity
	}
	if p.Continuity != nil {
		task.Continuity = p.Continuity
	}
	if res := m.Db.Save(&task); res.Error != nil {
		return nil, generr.UpdateDB
	}
	return &task, nil
}

// Submit moves a complete draft into AUDITING and consumes one quota slot
// for its category. The slot is consumed immediately and irrevocably; a
// later rejection does not refund it. Quota reset and the quota check run
// as one step under the account row lock.
func (m *Manager) Submit(accountId uint, taskId string) (*emomint.Task, error) {
	tx := m.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	var acct emomint.Account
	res := emomint.LockForUpdate(tx).Where("id = ?", accountId).First(&acct)
	if res.RowsAffected != 1 {
		return nil, generr.NotFound
	}
	var task emomint.Task
	res = tx.Where("id = ? AND account_id = ?", taskId, accountId).First(&task)
	if res.RowsAffected != 1 {
		return nil, generr.NotFound
	}
	if task.Status != emomint.TaskDraft {
		return nil, generr.InvalidState
	}
	if !task.AnnotationComplete() {
		return nil, generr.Validation
	}

	today := emomint.Today()
	if acct.LastQuotaResetDay != today {
		acct.ResetQuota(today)
	}
	limit := uint(emomint.CurrentAppConfig.Settings.Limits.DailyQuota)
	if acct.QuotaCount(task.Emotion) >= limit {
		// Persist the day rollover even when the request is refused.
		tx.Save(&acct)
		tx.Commit()
		return nil, generr.QuotaExceeded
	}
	acct.BumpQuota(task.Emotion)

	task.Status = emomint.TaskAuditing
	task.Reward = emomint.CurrentAppConfig.RewardRate(task.Emotion)
	if res := tx.Save(&acct); res.Error != nil {
		return nil, generr.UpdateDB
	}
	if res := tx.Save(&task); res.Error != nil {
		return nil, generr.UpdateDB
	}
	tx.Commit()
	fmt.Printf("[Task] submitted %s emotion=%s quota %d/%d\n", task.Id, task.Emotion, acct.QuotaCount(task.Emotion), limit)

	if m.Oracle != nil {
		m.Oracle.Dispatch(task)
	}
	return &task, nil
}

// Verdict consumes the grading oracle's decision, at most once per task. On
// a pass the snapshotted reward lands in the pending task pool and the
// inviter's commission accrues.
func (m *Manager) Verdict(taskId string, passed bool, reason string, rating float64) error {
	tx := m.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	var task emomint.Task
	res := emomint.LockForUpdate(tx).Where("id = ?", taskId).First(&task)
	if res.RowsAffected != 1 {
		return generr.NotFound
	}
	if task.Status != emomint.TaskAuditing {
		return generr.InvalidState
	}
	var acct emomint.Account
	res = emomint.LockForUpdate(tx).Where("id = ?", task.AccountId).First(&acct)
	if res.RowsAffected != 1 {
		return generr.NotFound
	}

	task.Rating = rating
	if passed {
		task.Status = emomint.TaskLabeled
		if err := m.Ledger.IssueTaskReward(tx, &acct, &task); err != nil {
			return err
		}
		if acct.InvitedBy > 0 {
			commission := ledger.Commission(task.Reward)
			if commission > 0 {
				if err := m.Ledger.RecordInvitationAccrual(tx, &acct, commission); err != nil {
					return err
				}
			}
		}
	} else {
		task.Status = emomint.TaskRejected
		task.RejectReason = reason
	}
	if res := tx.Save(&task); res.Error != nil {
		return generr.UpdateDB
	}
	if res := tx.Save(&acct); res.Error != nil {
		return generr.UpdateDB
	}
	tx.Commit()

	if m.Rdb != nil {
		data := emomint.NotificationData{
			Style:   emomint.MessageStyleSuccess,
			Type:    emomint.MessageTypeTaskLabeled,
			Message: reason,
			TaskId:  task.Id,
			Emo:     task.Reward,
			Rating:  rating,
		}
		if !passed {
			data.Style = emomint.MessageStyleError
			data.Type = emomint.MessageTypeTaskRejected
			data.Emo = 0
		}
		emomint.PushNotification(m.Rdb, &acct, data)
	}
	return nil
}

// DeleteDraft removes a draft. Submitted tasks are part of the audit trail
// and cannot be deleted.
func (m *Manager) DeleteDraft(accountId uint, taskId string) error {
	var task emomint.Task
	res := m.Db.Where("id = ? AND account_id = ?", taskId, accountId).First(&task)
	if res.RowsAffected != 1 {
		return generr.NotFound
	}
	if task.Status != emomint.TaskDraft {
		return generr.InvalidState
	}
	if res := m.Db.Delete(&task); res.Error != nil {
		return generr.UpdateDB
	}
	return nil
}

// List returns the account's tasks, newest first, optionally filtered by
// status.
func (m *Manager) List(accountId uint, status string) ([]emomint.Task, error) {
	var tasks []emomint.Task
	q := m.Db.Where("account_id = ?", accountId)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	res := q.Order("created_at DESC").Find(&tasks)
	if res.Error != nil {
		return nil, generr.ReadDB
	}
	return tasks, nil
}
