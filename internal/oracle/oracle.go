package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"
	openai "github.com/sashabaranov/go-openai"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/worker"
)

// Enqueuer is the slice of asynq.Client the oracle needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Oracle grades submitted captures and feeds verdicts back through asynq.
// Three modes, picked at startup: a remote grader service (GRADER_URL), an
// OpenAI vision model (OPENAI_API_KEY), or the dev fallback that passes
// everything after a short delay. Outbound calls run on a bounded pool so a
// burst of submissions cannot flood the grader.
type Oracle struct {
	Aqc       Enqueuer
	pool      *worker.Pool
	http      *resty.Client
	ai        *openai.Client
	graderUrl string
}

func NewOracle(aqc Enqueuer) *Oracle {
	o := &Oracle{
		Aqc:       aqc,
		pool:      worker.NewPool(4, 256),
		graderUrl: os.Getenv("GRADER_URL"),
	}
	if o.graderUrl != "" {
		o.http = resty.New().SetTimeout(30 * time.Second)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		o.ai = openai.NewClient(key)
	}
	return o
}

func (o *Oracle) Close() {
	o.pool.Close()
	o.pool.Wait()
}

type gradeJob struct {
	oracle *Oracle
	task   emomint.Task
}

func (j gradeJob) Execute() {
	j.oracle.grade(j.task)
}

// Dispatch queues one grading call. Fire and forget; the verdict comes back
// through the grading asynq queue.
func (o *Oracle) Dispatch(task emomint.Task) {
	o.pool.Exec(gradeJob{oracle: o, task: task})
}

func (o *Oracle) grade(task emomint.Task) {
	var (
		verdict VerdictPayload
		delay   time.Duration
		err     error
	)
	switch {
	case o.graderUrl != "":
		verdict, err = o.remoteGrade(task)
	case o.ai != nil:
		verdict, err = o.visionGrade(task)
	default:
		// Dev fallback: everything passes, slightly delayed so the run
		// is observable.
		verdict = VerdictPayload{TaskId: task.Id, Passed: true, Rating: 5}
		delay = 3 * time.Second
	}
	if err != nil {
		fmt.Println("[Oracle] grading failed:", err)
		verdict = VerdictPayload{TaskId: task.Id, Passed: false, Reason: "grading unavailable"}
	}
	verdict.TaskId = task.Id
	t, opts := NewVerdictTask(verdict, delay)
	if _, err := o.Aqc.Enqueue(t, opts...); err != nil {
		fmt.Println("[Oracle] enqueue verdict failed:", err)
	}
}

type graderResponse struct {
	Passed bool    `json:"passed"`
	Reason string  `json:"reason"`
	Rating float64 `json:"rating"`
}

func (o *Oracle) remoteGrade(task emomint.Task) (VerdictPayload, error) {
	var out graderResponse
	resp, err := o.http.R().
		SetBody(map[string]any{
			"task_id":     task.Id,
			"emotion":     task.Emotion,
			"capture_ref": task.CaptureRef,
		}).
		SetResult(&out).
		Post(o.graderUrl)
	if err != nil {
		return VerdictPayload{}, err
	}
	if resp.IsError() {
		return VerdictPayload{}, fmt.Errorf("grader status %d", resp.StatusCode())
	}
	return VerdictPayload{Passed: out.Passed, Reason: out.Reason, Rating: out.Rating}, nil
}

const visionPrompt = `You are grading a facial-expression capture for the emotion %q.
Respond with JSON only: {"passed": bool, "reason": string, "rating": number 0-10}.
Pass only if the face clearly and genuinely shows that emotion.`

func (o *Oracle) visionGrade(task emomint.Task) (VerdictPayload, error) {
	resp, err := o.ai.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: openai.GPT4VisionPreview,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf(visionPrompt, task.Emotion),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: task.CaptureRef},
					},
				},
			},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return VerdictPayload{}, err
	}
	if len(resp.Choices) == 0 {
		return VerdictPayload{}, fmt.Errorf("empty completion")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")
	var out graderResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return VerdictPayload{}, err
	}
	return VerdictPayload{Passed: out.Passed, Reason: out.Reason, Rating: out.Rating}, nil
}
