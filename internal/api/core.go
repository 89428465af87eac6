package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
	"github.com/emomint/backend/internal/invite"
	"github.com/emomint/backend/internal/ledger"
	"github.com/emomint/backend/internal/pipeline"
	"github.com/emomint/backend/internal/taskflow"
)

var ctx = context.Background()

// Env bundles the app handle and the services the handlers call into. The
// router stores it in the gin context under "app".
type Env struct {
	App      *emomint.App
	Ledger   *ledger.Ledger
	Tasks    *taskflow.Manager
	Pipeline *pipeline.Engine
	Invites  *invite.Registry
}

func getEnv(c *gin.Context) *Env {
	return c.MustGet("app").(*Env)
}

// currentAccount resolves the account behind the jwt address set by the auth
// middleware.
func currentAccount(c *gin.Context, env *Env) (*emomint.Account, bool) {
	address := c.MustGet("address").(string)
	var acct emomint.Account
	res := env.App.Db.Where("address = ?", address).First(&acct)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid jwt"})
		return nil, false
	}
	return &acct, true
}

// fail translates a coded business error into the HTTP response.
func fail(c *gin.Context, err error) {
	var ge *generr.Err
	if errors.As(err, &ge) {
		c.JSON(ge.HTTPStatus(), gin.H{"error": ge.Msg, "code": ge.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
