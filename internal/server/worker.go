package server

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/ledger"
	"github.com/emomint/backend/internal/oracle"
	"github.com/emomint/backend/internal/pipeline"
	"github.com/emomint/backend/internal/taskflow"
)

var ctx = context.Background()

var AppWorker *emomint.AppWorker

// WorkerInit runs the background process consuming grading verdicts and
// pipeline stage events.
func WorkerInit() {
	AppWorker = emomint.InitWorker()
	led := ledger.New(AppWorker.Db)
	grader := oracle.NewOracle(AppWorker.Aqc)
	manager := taskflow.NewManager(AppWorker.Db, led, grader, AppWorker.Rdb)
	engine := pipeline.NewEngine(AppWorker.Db, led, AppWorker.Aqc, AppWorker.Rdb)

	mux := asynq.NewServeMux()
	engine.RegisterHandlers(mux)
	oracle.RegisterHandlers(mux, manager)

	fmt.Println("[ EmoMint Worker is up ]")
	if err := AppWorker.Aqs.Run(mux); err != nil {
		log.Fatal("Failed to run EmoMint Worker: ", err)
	}
}
