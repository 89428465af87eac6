package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/emomint/backend/internal/generr"
	"github.com/emomint/backend/internal/taskflow"
)

const (
	TypeVerdict = "grading:verdict"

	QueueGrading = "grading"
)

// VerdictPayload is the grader's decision for one submitted task.
type VerdictPayload struct {
	TaskId string  `json:"task_id"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason"`
	Rating float64 `json:"rating"`
}

func NewVerdictTask(p VerdictPayload, after time.Duration) (*asynq.Task, []asynq.Option) {
	payload, _ := json.Marshal(p)
	opts := []asynq.Option{asynq.Queue(QueueGrading)}
	if after > 0 {
		opts = append(opts, asynq.ProcessIn(after))
	}
	return asynq.NewTask(TypeVerdict, payload), opts
}

// RegisterHandlers wires verdict consumption into the worker's asynq mux.
func RegisterHandlers(mux *asynq.ServeMux, mgr *taskflow.Manager) {
	mux.HandleFunc(TypeVerdict, func(ctx context.Context, t *asynq.Task) error {
		var p VerdictPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		err := mgr.Verdict(p.TaskId, p.Passed, p.Reason, p.Rating)
		if errors.Is(err, generr.InvalidState) || errors.Is(err, generr.NotFound) {
			return nil // duplicate or stale verdict; the first one won
		}
		return err
	})
}
