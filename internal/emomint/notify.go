package emomint

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	MessageTargetSync         = "sync"
	MessageTargetNotification = "notify"

	MessageStyleSuccess = "success"
	MessageStyleWarning = "warning"
	MessageStyleError   = "error"
	MessageStyleInfo    = "info"

	MessageTypeCustom        = "custom"
	MessageTypeTaskLabeled   = "task_labeled"
	MessageTypeTaskRejected  = "task_rejected"
	MessageTypeClaimSettled  = "claim_settled"
	MessageTypeClaimFailed   = "claim_failed"
	MessageTypeBonusSettled  = "bonus_settled"
	MessageTypeInviteAccrual = "invite_accrual"
)

type WsResponseData struct {
	Target  string           `json:"target"` // 'notify', 'alert', 'sync'
	Account AccountData      `json:"account"`
	Data    NotificationData `json:"data"`
	Config  AppConfig        `json:"app_config"`
}

type NotificationData struct {
	Id      int     `json:"id"`
	Style   string  `json:"style"`
	Type    string  `json:"type"`
	Message string  `json:"message"` // grader comment or settlement description
	TaskId  string  `json:"task_id"`
	Emo     float64 `json:"emo"`    // EMO amount attached to the event
	Rating  float64 `json:"rating"` // 0-10 grader estimation
}

// NotifyChannel is the per-account redis pub/sub channel the /ws handler
// subscribes to.
func NotifyChannel(accountId uint) string {
	return fmt.Sprintf("notification_ch@%d", accountId)
}

// PushNotification publishes an event to the account's channel. Dropped
// silently when nobody is listening; the feed endpoints stay authoritative.
func PushNotification(rdb *redis.Client, acct *Account, data NotificationData) {
	if data.Id == 0 {
		data.Id = rand.Intn(99999)
	}
	payload, err := json.Marshal(WsResponseData{
		Target:  MessageTargetNotification,
		Account: Snapshot(acct),
		Data:    data,
		Config:  *CurrentAppConfig,
	})
	if err != nil {
		return
	}
	_ = rdb.Publish(context.Background(), NotifyChannel(acct.Id), payload).Err()
}

// SyncAccountStats serializes the account snapshot for the /ws sync reply.
func SyncAccountStats(db *gorm.DB, acct *Account) []byte {
	data := WsResponseData{
		Target:  MessageTargetSync,
		Account: Snapshot(acct),
		Config:  *CurrentAppConfig,
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return jsonData
}
