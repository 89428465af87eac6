package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
)

type nicknameParams struct {
	Nickname string `json:"nickname" binding:"required"`
}

func GetAccount(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": emomint.Snapshot(acct),
		"config":  emomint.RefreshConfig(env.App.Rdb),
	})
}

func UpdateNickname(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	var p nicknameParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !emomint.NicknameCheck.MatchString(p.Nickname) {
		fail(c, generr.BadNickname)
		return
	}
	var double emomint.Account
	res := env.App.Db.Where(
		"nickname NOT IN ('') AND nickname = ? AND id <> ?",
		p.Nickname,
		acct.Id,
	).First(&double)
	if res.RowsAffected == 1 {
		fail(c, generr.NicknameTaken)
		return
	}
	acct.Nickname = p.Nickname
	if res := env.App.Db.Save(acct); res.Error != nil {
		fail(c, generr.UpdateDB)
		return
	}
	// Keep the invitee feed rows in sync with the new display name.
	env.App.Db.Model(&emomint.Invitee{}).
		Where("invitee_id = ?", acct.Id).
		Update("invitee_name", p.Nickname)
	c.JSON(http.StatusOK, gin.H{"account": emomint.Snapshot(acct)})
}
