package emomint

import "time"

type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionSurprised Emotion = "surprised"
	EmotionFearful   Emotion = "fearful"
	EmotionDisgusted Emotion = "disgusted"
	EmotionNeutral   Emotion = "neutral"
)

var Emotions = []Emotion{
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionSurprised,
	EmotionFearful,
	EmotionDisgusted,
	EmotionNeutral,
}

func ValidEmotion(e Emotion) bool {
	for _, known := range Emotions {
		if e == known {
			return true
		}
	}
	return false
}

// RewardRate returns the configured issuance rate for a category.
func (c *AppConfig) RewardRate(e Emotion) float64 {
	switch e {
	case EmotionHappy:
		return c.Settings.Rewards.Happy
	case EmotionSad:
		return c.Settings.Rewards.Sad
	case EmotionAngry:
		return c.Settings.Rewards.Angry
	case EmotionSurprised:
		return c.Settings.Rewards.Surprised
	case EmotionFearful:
		return c.Settings.Rewards.Fearful
	case EmotionDisgusted:
		return c.Settings.Rewards.Disgusted
	case EmotionNeutral:
		return c.Settings.Rewards.Neutral
	}
	return 0
}

const (
	TaskDraft    = "DRAFT"
	TaskAuditing = "AUDITING"
	TaskLabeled  = "LABELED"
	TaskRejected = "REJECTED"
)

type Task struct {
	Id         string    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccountId  uint      `json:"account_id" gorm:"index;not null"`
	Emotion    Emotion   `json:"emotion" gorm:"not null"`
	Status     string    `json:"status" gorm:"index;not null;default:DRAFT"`
	Reward     float64   `json:"reward"`      // rate snapshot taken at submission
	CaptureRef string    `json:"capture_ref"` // opaque pointer into capture storage

	// Annotation payload. All four fields must be set before submission;
	// nil means the contributor has not filled the field in yet.
	Clarity    *bool `json:"clarity"`
	Staged     *bool `json:"staged"`
	Intensity  *int  `json:"intensity"`  // 0-100
	Continuity *int  `json:"continuity"` // 0-100

	Rating       float64 `json:"rating"` // 0-10 grader estimation, set with the verdict
	RejectReason string  `json:"reject_reason"`
}

// AnnotationComplete reports whether every annotation field has been filled
// in. Submission is refused until this holds.
func (t *Task) AnnotationComplete() bool {
	return t.Clarity != nil && t.Staged != nil && t.Intensity != nil && t.Continuity != nil
}

// Terminal reports whether the task reached a final audit outcome.
func (t *Task) Terminal() bool {
	return t.Status == TaskLabeled || t.Status == TaskRejected
}
