package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/spruceid/siwe-go"

	"github.com/emomint/backend/internal/api/jwt"
	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/evm"
)

type signinParams struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Code      string `json:"invite_code" validate:"max=8"`
	Locale    string `json:"locale" validate:"max=5"`
	Ip        string `json:"ip" validate:"max=39"`
}

// Nonce instead of storing the nonce in db for an inexistant account we just
// put it in some redis that expires
func Nonce(c *gin.Context) {
	env := getEnv(c)
	address := c.Param("address")

	if !evm.IsValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address format"})
		return
	}

	nonce := siwe.GenerateNonce()

	err := env.App.Rdb.Set(ctx, evm.Normalize(address), nonce, 1*time.Minute).Err()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce": nonce,
	})
}

// Signin Sign in with SIWE. First signin for an address is the signup: the
// account is created, the invite code from the landing link is bound and
// locked, and the welcome grant is issued.
func Signin(c *gin.Context) {
	env := getEnv(c)
	var signinP signinParams
	if err := c.ShouldBindJSON(&signinP); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// parse message to siwe
	siweMessage, err := siwe.ParseMessage(signinP.Message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// get the nonce in cache for address
	addr := evm.Normalize(siweMessage.GetAddress().String())
	nonce, err := env.App.Rdb.Get(ctx, addr).Result()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// domain will be cors restricted its fine to just use the one from the message
	domain := siweMessage.GetDomain()
	// verify signature
	publicKey, err := siweMessage.Verify(signinP.Signature, &domain, &nonce, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr = evm.Normalize(crypto.PubkeyToAddress(*publicKey).Hex())
	if addr == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}
	fmt.Println("signature is valid")

	var acct emomint.Account
	res := env.App.Db.Where("address = ?", addr).First(&acct)
	if res.RowsAffected == 1 {
		// Existing account: a code passed with the signin can still bind as
		// long as the binding is not locked yet.
		if signinP.Code != "" && !acct.InviteLocked {
			tx := env.App.Db.Begin()
			if err := env.Invites.Bind(tx, &acct, signinP.Code, true, true); err != nil {
				tx.Rollback()
				fmt.Println("[Signin] invite bind skipped:", err)
			} else {
				tx.Commit()
			}
		}
		token, err := jwt.GenerateJWT(addr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"account":   emomint.Snapshot(&acct),
			"is_signup": false,
			"jwt":       token,
		})
		return
	}

	// [[SIGN UP]]
	fmt.Println("[[New Sign Up]] invite code:", signinP.Code)
	tx := env.App.Db.Begin()
	defer func() {
		tx.Rollback()
	}()
	acct = emomint.Account{
		Address: addr,
		Locale:  signinP.Locale,
		Ip:      signinP.Ip,
	}
	if res := tx.Create(&acct); res.Error != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error.Error()})
		return
	}
	if signinP.Code != "" {
		// A dead or exhausted code does not block the signup.
		if err := env.Invites.Bind(tx, &acct, signinP.Code, true, true); err != nil {
			fmt.Println("[Signup] invite bind skipped:", err)
		}
	}
	if !acct.InviteLocked {
		acct.InviteLocked = true
		if res := tx.Save(&acct); res.Error != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": res.Error.Error()})
			return
		}
	}
	if err := env.Ledger.GrantSignup(tx, &acct); err != nil {
		fail(c, err)
		return
	}
	if _, err := env.Invites.Issue(tx, &acct); err != nil {
		fail(c, err)
		return
	}
	tx.Commit()

	cpUrl := os.Getenv("CP_URL")
	msg := fmt.Sprintf(
		`New Signup [Account: %d](%s/accounts/%d)
[%s](https://polygonscan.com/address/%s)
Locale: %s
IP: %s`,
		acct.Id,
		cpUrl,
		acct.Id,
		acct.Address,
		acct.Address,
		emomint.EscapeMarkdownV2(acct.Locale),
		emomint.EscapeMarkdownV2(acct.Ip),
	)
	if acct.InvitedBy > 0 {
		msg = fmt.Sprintf(
			`%s
Invited by [Account: %d](%s/accounts/%d)`,
			msg,
			acct.InvitedBy,
			cpUrl,
			acct.InvitedBy,
		)
	}
	_ = emomint.SendTelegramMessage(msg, "signup")

	token, err := jwt.GenerateJWT(addr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":   emomint.Snapshot(&acct),
		"is_signup": true,
		"jwt":       token,
	})
}
