package pipeline

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeStageAdvance = "pipeline:advance"
	TypeRunTimeout   = "pipeline:timeout"

	QueuePipeline = "pipeline"
)

// StagePayload drives one stage transition of a run. Stage is the stage the
// run should move INTO when the task fires.
type StagePayload struct {
	TicketId string `json:"ticket_id"`
	Stage    string `json:"stage"`
}

type TimeoutPayload struct {
	TicketId string `json:"ticket_id"`
}

func NewStageTask(ticketId, stage string, after time.Duration) (*asynq.Task, []asynq.Option) {
	payload, _ := json.Marshal(StagePayload{TicketId: ticketId, Stage: stage})
	return asynq.NewTask(TypeStageAdvance, payload),
		[]asynq.Option{asynq.Queue(QueuePipeline), asynq.ProcessIn(after)}
}

func NewTimeoutTask(ticketId string, after time.Duration) (*asynq.Task, []asynq.Option) {
	payload, _ := json.Marshal(TimeoutPayload{TicketId: ticketId})
	return asynq.NewTask(TypeRunTimeout, payload),
		[]asynq.Option{asynq.Queue(QueuePipeline), asynq.ProcessIn(after)}
}
