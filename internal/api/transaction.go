package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/generr"
)

type claimParams struct {
	Pool string `json:"pool" binding:"required"`
}

type purchaseParams struct {
	Plan string `json:"plan" binding:"required"`
}

type walletEventParams struct {
	TicketId string `json:"ticket_id" binding:"required"`
	Event    string `json:"event" binding:"required"` // signing, broadcasting, success, failed
	Ref      string `json:"ref"`
	Code     string `json:"code"`
}

type PaginatedTx struct {
	Count    int           `json:"count"`
	Next     string        `json:"next"`
	Previous string        `json:"previous"`
	Results  []interface{} `json:"results"`
}

func GetTransactionsList(c *gin.Context) {
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
	var transactions []emomint.Transaction
	env.App.Db.Where("account_id = ?", acct.Id).
		Order("created_at DESC").
		Find(&transactions)
	feed := make([]interface{}, 0, len(transactions))
	for _, t := range transactions {
		feed = append(feed, t)
	}
	c.JSON(http.StatusOK, paginateTx(feed, page, size))
}

func paginateTx(transactions []interface{}, page int, size int) (paginatedTx PaginatedTx) {
	paginatedTx.Results = []interface{}{}
	feedLen := len(transactions)
	i := (page - 1) * size
	if feedLen <= i {
		return paginatedTx
	}
	if feedLen > page*size {
		paginatedTx.Next = fmt.Sprintf("/users/tx/?page=%d&size=%d", page+1, size)
	}
	if page > 1 {
		paginatedTx.Previous = fmt.Sprintf("/users/tx/?page=%d&size=%d", page-1, size)
	}
	if size > feedLen {
		size = feedLen
	}
	j := i + size
	if feedLen < j {
		j = feedLen
	}
	paginatedTx.Count = feedLen
	paginatedTx.Results = transactions[i:j]
	return paginatedTx
}

// OpenClaim starts a claim run for a reward pool. The ticket sits in review
// until the account confirms or cancels it.
func OpenClaim(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	var p claimParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ticket, err := env.Ledger.OpenClaim(acct.Id, p.Pool)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func OpenBonus(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	ticket, err := env.Ledger.OpenBonus(acct.Id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func OpenPurchase(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	var p purchaseParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ticket, err := env.Ledger.OpenPurchase(acct.Id, p.Plan)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// ConfirmClaim locks the run in and hands it to the wallet stages.
func ConfirmClaim(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	ticket, err := env.Pipeline.Confirm(acct.Id, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	msg := fmt.Sprintf(
		`Claim confirmed %s
Account: %d
Amount: %s`,
		ticket.Pool,
		acct.Id,
		emomint.EscapeMarkdownV2(fmt.Sprintf("%f", ticket.Amount)),
	)
	err = emomint.SendTelegramMessage(msg, "finance")
	fmt.Println(err)
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func CancelClaim(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	if err := env.Pipeline.Cancel(acct.Id, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// RetryTx reopens a failed transaction under its original id. The new
// ticket snapshots the amounts of the failed run and starts back in review.
func RetryTx(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	ticket, err := env.Ledger.Retry(acct.Id, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// GetActiveClaim returns the in-flight ticket, if any.
func GetActiveClaim(c *gin.Context) {
	env := getEnv(c)
	acct, ok := currentAccount(c, env)
	if !ok {
		return
	}
	var ticket emomint.ClaimTicket
	res := env.App.Db.Where(
		"account_id = ? AND stage NOT IN ?",
		acct.Id,
		[]string{emomint.StageSuccess, emomint.StageFailed},
	).First(&ticket)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusOK, gin.H{"ticket": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// WalletEvent receives stage callbacks from an external wallet service.
// Guarded by a shared token. Late events for resolved runs are dropped.
func WalletEvent(c *gin.Context) {
	env := getEnv(c)
	if c.GetHeader("X-Wallet-Token") != os.Getenv("WALLET_TOKEN") {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}
	var p walletEventParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	switch p.Event {
	case "signing":
		err = env.Pipeline.Advance(p.TicketId, emomint.StageSigning)
	case "broadcasting":
		err = env.Pipeline.Advance(p.TicketId, emomint.StageBroadcasting)
	case "success":
		err = env.Pipeline.Complete(p.TicketId, true, p.Ref, "")
	case "failed":
		err = env.Pipeline.Complete(p.TicketId, false, "", p.Code)
	default:
		fail(c, generr.ParseParam)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
