package taskflow

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
	"github.com/emomint/backend/internal/ledger"
)

// recordingOracle captures dispatched tasks instead of grading them.
type recordingOracle struct {
	dispatched []emomint.Task
}

func (r *recordingOracle) Dispatch(task emomint.Task) {
	r.dispatched = append(r.dispatched, task)
}

func newTestManager(t *testing.T) (*Manager, *recordingOracle, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, emomint.Migrate(db))
	oracle := &recordingOracle{}
	return NewManager(db, ledger.New(db), oracle, nil), oracle, db
}

func newAccount(t *testing.T, db *gorm.DB) *emomint.Account {
	t.Helper()
	acct := &emomint.Account{Address: "0x" + uuid.NewString()[:8]}
	require.NoError(t, db.Create(acct).Error)
	return acct
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func completeDraft(t *testing.T, m *Manager, accountId uint, emotion emomint.Emotion) *emomint.Task {
	t.Helper()
	task, err := m.CreateOrUpdateDraft(accountId, DraftParams{
		Emotion:    emotion,
		CaptureRef: "cap://" + uuid.NewString(),
		Clarity:    boolPtr(true),
		Staged:     boolPtr(false),
		Intensity:  intPtr(80),
		Continuity: intPtr(90),
	})
	require.NoError(t, err)
	return task
}

func TestDraftValidation(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)

	_, err := m.CreateOrUpdateDraft(acct.Id, DraftParams{Emotion: "bored"})
	assert.ErrorIs(t, err, generr.BadEmotion)

	_, err = m.CreateOrUpdateDraft(acct.Id, DraftParams{
		Emotion:   emomint.EmotionHappy,
		Intensity: intPtr(101),
	})
	assert.ErrorIs(t, err, generr.Validation)
}

func TestDraftUpsertIsIdempotent(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)

	task, err := m.CreateOrUpdateDraft(acct.Id, DraftParams{
		Emotion:    emomint.EmotionSad,
		CaptureRef: "cap://a",
	})
	require.NoError(t, err)

	updated, err := m.CreateOrUpdateDraft(acct.Id, DraftParams{
		Id:      task.Id,
		Emotion: emomint.EmotionSad,
		Clarity: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, task.Id, updated.Id)
	assert.Equal(t, "cap://a", updated.CaptureRef)
	require.NotNil(t, updated.Clarity)

	var count int64
	db.Model(&emomint.Task{}).Where("account_id = ?", acct.Id).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSubmitRequiresCompleteAnnotation(t *testing.T) {
	m, oracle, db := newTestManager(t)
	acct := newAccount(t, db)

	task, err := m.CreateOrUpdateDraft(acct.Id, DraftParams{
		Emotion:    emomint.EmotionHappy,
		CaptureRef: "cap://a",
		Clarity:    boolPtr(true),
	})
	require.NoError(t, err)

	_, err = m.Submit(acct.Id, task.Id)
	assert.ErrorIs(t, err, generr.Validation)
	assert.Empty(t, oracle.dispatched)
}

func TestSubmitSnapshotsReward(t *testing.T) {
	m, oracle, db := newTestManager(t)
	acct := newAccount(t, db)
	task := completeDraft(t, m, acct.Id, emomint.EmotionHappy)

	submitted, err := m.Submit(acct.Id, task.Id)
	require.NoError(t, err)
	assert.Equal(t, emomint.TaskAuditing, submitted.Status)
	assert.Equal(t, 2.0, submitted.Reward)
	require.Len(t, oracle.dispatched, 1)
	assert.Equal(t, task.Id, oracle.dispatched[0].Id)

	// Submitting twice is an illegal transition.
	_, err = m.Submit(acct.Id, task.Id)
	assert.ErrorIs(t, err, generr.InvalidState)
}

func TestQuotaPerCategory(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)

	for i := 0; i < 2; i++ {
		task := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
		_, err := m.Submit(acct.Id, task.Id)
		require.NoError(t, err)
	}

	third := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err := m.Submit(acct.Id, third.Id)
	assert.ErrorIs(t, err, generr.QuotaExceeded)

	// The refused draft stays a draft and the counter stays put.
	var refused emomint.Task
	require.NoError(t, db.Where("id = ?", third.Id).First(&refused).Error)
	assert.Equal(t, emomint.TaskDraft, refused.Status)
	var after emomint.Account
	require.NoError(t, db.Where("id = ?", acct.Id).First(&after).Error)
	assert.Equal(t, uint(2), after.QuotaHappy)

	// Another category is unaffected.
	neutral := completeDraft(t, m, acct.Id, emomint.EmotionNeutral)
	_, err = m.Submit(acct.Id, neutral.Id)
	require.NoError(t, err)
}

func TestQuotaDayRollover(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)
	require.NoError(t, db.Model(acct).Updates(map[string]interface{}{
		"quota_happy":          2,
		"last_quota_reset_day": "2000-01-01",
	}).Error)

	task := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err := m.Submit(acct.Id, task.Id)
	require.NoError(t, err)

	var after emomint.Account
	require.NoError(t, db.Where("id = ?", acct.Id).First(&after).Error)
	assert.Equal(t, uint(1), after.QuotaHappy)
	assert.Equal(t, emomint.Today(), after.LastQuotaResetDay)
}

func TestVerdictPassIssuesReward(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)
	task := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err := m.Submit(acct.Id, task.Id)
	require.NoError(t, err)

	require.NoError(t, m.Verdict(task.Id, true, "clear expression", 9))

	var labeled emomint.Task
	require.NoError(t, db.Where("id = ?", task.Id).First(&labeled).Error)
	assert.Equal(t, emomint.TaskLabeled, labeled.Status)
	assert.Equal(t, 9.0, labeled.Rating)

	var after emomint.Account
	require.NoError(t, db.Where("id = ?", acct.Id).First(&after).Error)
	assert.Equal(t, 2.0, after.PendingTaskRewards)
	assert.Equal(t, uint(1), after.TasksLabeled)

	var row emomint.Transaction
	res := db.Where("account_id = ? AND source = ?", acct.Id, emomint.SourceTaskReward).First(&row)
	require.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, emomint.TxIssuance, row.Category)
	assert.Equal(t, 2.0, row.Amount)
	assert.Equal(t, emomint.TxSuccess, row.Status)
}

func TestVerdictAtMostOnce(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)
	task := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err := m.Submit(acct.Id, task.Id)
	require.NoError(t, err)

	require.NoError(t, m.Verdict(task.Id, true, "", 8))
	assert.ErrorIs(t, m.Verdict(task.Id, true, "", 8), generr.InvalidState)
	assert.ErrorIs(t, m.Verdict(task.Id, false, "late", 0), generr.InvalidState)

	var after emomint.Account
	require.NoError(t, db.Where("id = ?", acct.Id).First(&after).Error)
	assert.Equal(t, 2.0, after.PendingTaskRewards)
}

func TestRejectionKeepsQuotaConsumed(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)

	first := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err := m.Submit(acct.Id, first.Id)
	require.NoError(t, err)
	second := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err = m.Submit(acct.Id, second.Id)
	require.NoError(t, err)

	require.NoError(t, m.Verdict(first.Id, false, "face not visible", 1))

	var rejected emomint.Task
	require.NoError(t, db.Where("id = ?", first.Id).First(&rejected).Error)
	assert.Equal(t, emomint.TaskRejected, rejected.Status)
	assert.Equal(t, "face not visible", rejected.RejectReason)

	var after emomint.Account
	require.NoError(t, db.Where("id = ?", acct.Id).First(&after).Error)
	assert.Equal(t, 0.0, after.PendingTaskRewards)
	assert.Equal(t, uint(2), after.QuotaHappy) // no refund

	third := completeDraft(t, m, acct.Id, emomint.EmotionHappy)
	_, err = m.Submit(acct.Id, third.Id)
	assert.ErrorIs(t, err, generr.QuotaExceeded)
}

func TestVerdictAccruesCommission(t *testing.T) {
	m, _, db := newTestManager(t)
	inviter := newAccount(t, db)
	invitee := newAccount(t, db)
	require.NoError(t, db.Model(invitee).Update("invited_by", inviter.Id).Error)

	task := completeDraft(t, m, invitee.Id, emomint.EmotionHappy)
	_, err := m.Submit(invitee.Id, task.Id)
	require.NoError(t, err)
	require.NoError(t, m.Verdict(task.Id, true, "", 7))

	var after emomint.Account
	require.NoError(t, db.Where("id = ?", inviter.Id).First(&after).Error)
	assert.Equal(t, 0.14, after.PendingInviteRewards)

	var relation emomint.Invitee
	require.NoError(t, db.Where("account_id = ? AND invitee_id = ?", inviter.Id, invitee.Id).First(&relation).Error)
	assert.Equal(t, 0.14, relation.PendingReward)
}

func TestDeleteDraftOnly(t *testing.T) {
	m, _, db := newTestManager(t)
	acct := newAccount(t, db)

	draft := completeDraft(t, m, acct.Id, emomint.EmotionSad)
	require.NoError(t, m.DeleteDraft(acct.Id, draft.Id))

	submitted := completeDraft(t, m, acct.Id, emomint.EmotionSad)
	_, err := m.Submit(acct.Id, submitted.Id)
	require.NoError(t, err)
	assert.ErrorIs(t, m.DeleteDraft(acct.Id, submitted.Id), generr.InvalidState)

	// A submitted task can no longer be edited either.
	_, err = m.CreateOrUpdateDraft(acct.Id, DraftParams{
		Id:      submitted.Id,
		Emotion: emomint.EmotionSad,
	})
	assert.ErrorIs(t, err, generr.InvalidState)
}
