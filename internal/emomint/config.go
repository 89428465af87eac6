package emomint

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type AppConfig struct {
	Settings   AppSettings `json:"settings"`
	EmoUsdRate float64     `json:"emo_usd_rate"`
}

type AppSettings struct {
	Rewards  RewardSettings `json:"rewards"`
	Limits   SettingLimit   `json:"limits"`
	Plans    PlanSettings   `json:"plans"`
	Invite   InviteSettings `json:"invite"`
	Pipeline PipelineTiming `json:"pipeline"`
}

// RewardSettings holds the EMO issuance rate per emotion category. The rate
// is snapshotted onto the task at submission time.
type RewardSettings struct {
	Happy     float64 `json:"happy"`
	Sad       float64 `json:"sad"`
	Angry     float64 `json:"angry"`
	Surprised float64 `json:"surprised"`
	Fearful   float64 `json:"fearful"`
	Disgusted float64 `json:"disgusted"`
	Neutral   float64 `json:"neutral"`
}

type SettingLimit struct {
	DailyQuota int     `json:"daily_quota"` // submissions per category per UTC day
	ClaimGas   float64 `json:"claim_gas"`   // gas charged per settled claim
	SignupGas  float64 `json:"signup_gas"`  // starter gas granted at registration
	WelcomeEmo float64 `json:"welcome_emo"` // one-time signup issuance
}

type PlanSettings struct {
	Monthly   PlanSpec `json:"monthly"`
	Quarterly PlanSpec `json:"quarterly"`
	Yearly    PlanSpec `json:"yearly"`
}

type PlanSpec struct {
	Price      float64 `json:"price"`       // stablecoin price
	DailyBonus float64 `json:"daily_bonus"` // EMO per day while active
	Days       int     `json:"days"`
}

type InviteSettings struct {
	UsageLimit uint    `json:"usage_limit"`
	Commission float64 `json:"commission"` // share of invitee task rewards
}

type PipelineTiming struct {
	StageSeconds   int `json:"stage_seconds"`   // simulated wallet latency per stage
	TimeoutSeconds int `json:"timeout_seconds"` // Approving -> terminal watchdog
}

var (
	DefaultAppConfig = &AppConfig{
		Settings: AppSettings{
			Rewards: RewardSettings{
				Happy:     2,
				Sad:       1.5,
				Angry:     1.5,
				Surprised: 1.5,
				Fearful:   1.5,
				Disgusted: 1.5,
				Neutral:   1,
			},
			Limits: SettingLimit{
				DailyQuota: 2,
				ClaimGas:   0.0005,
				SignupGas:  0.01,
				WelcomeEmo: 1,
			},
			Plans: PlanSettings{
				Monthly:   PlanSpec{Price: 9.9, DailyBonus: 1, Days: 30},
				Quarterly: PlanSpec{Price: 24.9, DailyBonus: 1.2, Days: 90},
				Yearly:    PlanSpec{Price: 79.9, DailyBonus: 1.5, Days: 365},
			},
			Invite: InviteSettings{
				UsageLimit: 10,
				Commission: 0.07,
			},
			Pipeline: PipelineTiming{
				StageSeconds:   2,
				TimeoutSeconds: 120,
			},
		},
		EmoUsdRate: 0.01,
	}
	CurrentAppConfig = DefaultAppConfig
)

// SeedConfig writes the default config to redis unless an operator already
// overrode it, then refreshes CurrentAppConfig from whatever is stored.
func SeedConfig(rdb *redis.Client) {
	isSet := false
	appConfigRaw, _ := rdb.Get(context.Background(), "app_config").Result()
	if len(appConfigRaw) > 0 {
		cfg := &AppConfig{}
		if err := json.Unmarshal([]byte(appConfigRaw), cfg); err == nil {
			CurrentAppConfig = cfg
			isSet = true
		}
	}
	if !isSet {
		currentConfig, _ := json.Marshal(DefaultAppConfig)
		rdb.Set(context.Background(), "app_config", currentConfig, 0)
		CurrentAppConfig = DefaultAppConfig
	}
}

// RefreshConfig re-reads the redis copy so long-lived processes pick up
// operator overrides without a restart.
func RefreshConfig(rdb *redis.Client) *AppConfig {
	appConfigRaw, _ := rdb.Get(context.Background(), "app_config").Result()
	if len(appConfigRaw) > 0 {
		cfg := &AppConfig{}
		if err := json.Unmarshal([]byte(appConfigRaw), cfg); err == nil {
			CurrentAppConfig = cfg
		}
	}
	return CurrentAppConfig
}
