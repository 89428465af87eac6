package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emomint/backend/internal/emomint"
)

type bindParams struct {
	Code string `json:"code" binding:"required"`
}

type PaginatedRef struct {
	Count    int                `json:"count"`
	Next     string             `json:"next"`
	Previous string             `json:"previous"`
	Stats    emomint.InviteStats `json:"stats"`
	Results  []emomint.Invitee  `json:"results"`
}

// ValidateCode checks a code before the signup form commits to it.
func ValidateCode(c *gin.Context) {
	env := getEnv(c)
	rec, err := env.Invites.Validate(c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":     true,
		"uses":      rec.Uses,
		"use_limit": rec.UseLimit,
	})
}

// BindCode applies and locks a code on the signed-in account. Once locked
// the binding never changes again.
func BindCode(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	var p bindParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx := env.App.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	if err := env.Invites.Bind(tx, acct, p.Code, true, true); err != nil {
		fail(c, err)
		return
	}
	tx.Commit()
	c.JSON(http.StatusOK, gin.H{"account": emomint.Snapshot(acct)})
}

// GetInvitees returns the invitee feed with commission totals.
func GetInvitees(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size < 1 || size > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
		return
	}
	var invitees []emomint.Invitee
	env.App.Db.Where("account_id = ?", acct.Id).
		Order("last_active_at DESC").
		Find(&invitees)
	c.JSON(http.StatusOK, paginateRef(env, acct, invitees, page, size))
}

func paginateRef(env *Env, acct *emomint.Account, invitees []emomint.Invitee, page int, size int) (paginatedRef PaginatedRef) {
	paginatedRef.Results = []emomint.Invitee{}
	paginatedRef.Stats = env.Invites.Stats(acct)
	feedLen := len(invitees)
	paginatedRef.Count = feedLen
	i := (page - 1) * size
	if feedLen <= i {
		return paginatedRef
	}
	if feedLen > page*size {
		paginatedRef.Next = fmt.Sprintf("/users/ref/?page=%d&size=%d", page+1, size)
	}
	if page > 1 {
		paginatedRef.Previous = fmt.Sprintf("/users/ref/?page=%d&size=%d", page-1, size)
	}
	j := i + size
	if feedLen < j {
		j = feedLen
	}
	paginatedRef.Results = invitees[i:j]
	return paginatedRef
}
