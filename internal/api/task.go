package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/emomint/backend/internal/taskflow"
)

type verdictParams struct {
	TaskId string  `json:"task_id" binding:"required"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason" validate:"max=200"`
	Rating float64 `json:"rating"`
}

// UpsertDraft creates or updates a draft. Drafts are free to edit; nothing
// is consumed until submission.
func UpsertDraft(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	var p taskflow.DraftParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := env.Tasks.CreateOrUpdateDraft(acct.Id, p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// SubmitTask moves a draft into auditing, consuming one quota slot for its
// category. The slot stays consumed whatever the grader decides.
func SubmitTask(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	task, err := env.Tasks.Submit(acct.Id, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func DeleteDraft(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	if err := env.Tasks.DeleteDraft(acct.Id, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func GetTasksList(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	tasks, err := env.Tasks.List(acct.Id, c.DefaultQuery("status", ""))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// OracleVerdict receives the grader's decision for an audited task. Guarded
// by a shared token; duplicate verdicts for the same task are refused.
func OracleVerdict(c *gin.Context) {
	env := getEnv(c)
	if c.GetHeader("X-Oracle-Token") != os.Getenv("ORACLE_TOKEN") {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}
	var p verdictParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := env.Tasks.Verdict(p.TaskId, p.Passed, p.Reason, p.Rating); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
