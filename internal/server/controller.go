package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/emomint/backend/internal/api"
	"github.com/emomint/backend/internal/api/jwt"
	"github.com/emomint/backend/internal/api/middleware"
	"github.com/emomint/backend/internal/emomint"
	"github.com/emomint/backend/internal/invite"
	"github.com/emomint/backend/internal/ledger"
	"github.com/emomint/backend/internal/oracle"
	"github.com/emomint/backend/internal/pipeline"
	"github.com/emomint/backend/internal/taskflow"
)

var App *emomint.App
var Env *api.Env

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(429, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
}

func buildEnv(app *emomint.App) *api.Env {
	led := ledger.New(app.Db)
	grader := oracle.NewOracle(app.Aqc)
	return &api.Env{
		App:      app,
		Ledger:   led,
		Tasks:    taskflow.NewManager(app.Db, led, grader, app.Rdb),
		Pipeline: pipeline.NewEngine(app.Db, led, app.Aqc, app.Rdb),
		Invites:  invite.NewRegistry(app.Db),
	}
}

func ApiInit() { // Run Api Server
	App = emomint.Init()
	Env = buildEnv(App)
	router := gin.Default()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// This makes it so each ip can only make 100 requests per second
	store := ratelimit.RedisStore(&ratelimit.RedisOptions{
		RedisClient: redis.NewClient(&redis.Options{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       1,
		}),
		Rate:  time.Second,
		Limit: 100,
	})
	mw := ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://0.0.0.0:3000",
			"http://localhost:3000",
		},
		AllowHeaders:  []string{"Origin", "Access-Control-Allow-Origin", "Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		AllowMethods:  []string{"GET, POST, OPTIONS, PUT, DELETE"},
		MaxAge:        24 * time.Hour,
	}))
	router.Use(func(c *gin.Context) {
		c.Set("app", Env)
	})
	router.GET("/health", func(c *gin.Context) {
		queues := gin.H{}
		for _, q := range []string{pipeline.QueuePipeline, oracle.QueueGrading} {
			if info, err := Env.App.Aqi.GetQueueInfo(q); err == nil {
				queues[q] = info.Pending + info.Active
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "queues": queues})
	})
	router.GET("/ws", mw, wsHandler)
	router.GET("/ws/", mw, wsHandler)
	auth := router.Group("/auth/")
	{
		auth.GET("/nonce/:address", mw, api.Nonce)
		auth.GET("/nonce/:address/", mw, api.Nonce)
		auth.POST("/signin", mw, api.Signin)
		auth.POST("/signin/", mw, api.Signin)
	}
	router.GET("/invite/:code", mw, api.ValidateCode)
	router.GET("/invite/:code/", mw, api.ValidateCode)
	users := router.Group("/users/").Use(middleware.Auth())
	{
		users.GET("/me", mw, api.GetAccount)
		users.GET("/me/", mw, api.GetAccount)
		users.PUT("/me/nickname", mw, api.UpdateNickname)
		users.PUT("/me/nickname/", mw, api.UpdateNickname)
		users.GET("/tx", mw, api.GetTransactionsList)
		users.GET("/tx/", mw, api.GetTransactionsList)
		users.GET("/ref", mw, api.GetInvitees)
		users.GET("/ref/", mw, api.GetInvitees)
		users.POST("/ref/bind", mw, api.BindCode)
		users.POST("/ref/bind/", mw, api.BindCode)
	}
	tasks := router.Group("/tasks/").Use(middleware.Auth())
	{
		tasks.GET("", mw, api.GetTasksList)
		tasks.POST("", mw, api.UpsertDraft)
		tasks.POST("/:id/submit", mw, api.SubmitTask)
		tasks.POST("/:id/submit/", mw, api.SubmitTask)
		tasks.DELETE("/:id", mw, api.DeleteDraft)
		tasks.DELETE("/:id/", mw, api.DeleteDraft)
	}
	claims := router.Group("/claims/").Use(middleware.Auth())
	{
		claims.GET("", mw, api.GetActiveClaim)
		claims.POST("", mw, api.OpenClaim)
		claims.POST("/bonus", mw, api.OpenBonus)
		claims.POST("/bonus/", mw, api.OpenBonus)
		claims.POST("/purchase", mw, api.OpenPurchase)
		claims.POST("/purchase/", mw, api.OpenPurchase)
		claims.POST("/:id/confirm", mw, api.ConfirmClaim)
		claims.POST("/:id/confirm/", mw, api.ConfirmClaim)
		claims.POST("/:id/cancel", mw, api.CancelClaim)
		claims.POST("/:id/cancel/", mw, api.CancelClaim)
	}
	tx := router.Group("/tx/").Use(middleware.Auth())
	{
		tx.POST("/:id/retry", mw, api.RetryTx)
		tx.POST("/:id/retry/", mw, api.RetryTx)
	}
	hooks := router.Group("/hooks/")
	{
		hooks.POST("/oracle/verdict", mw, api.OracleVerdict)
		hooks.POST("/oracle/verdict/", mw, api.OracleVerdict)
		hooks.POST("/wallet/event", mw, api.WalletEvent)
		hooks.POST("/wallet/event/", mw, api.WalletEvent)
	}
	fmt.Println("[ EmoMint Backend is up and listening to :8000 ]")
	if err := router.Run(":8000"); err != nil {
		log.Fatal("Failed to run EmoMint Backend on :8000: ", err)
	}
}

func wsHandler(c *gin.Context) {
	env := c.MustGet("app").(*api.Env)
	// Extract token from query
	token := c.DefaultQuery("token", "")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	address, err := jwt.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	var acct emomint.Account
	res := env.App.Db.Where("address = ?", address).First(&acct)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	// Upgrade Connection
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to set websocket upgrade: %+v", err)
		return
	}
	defer conn.Close()
	emomint.RefreshConfig(env.App.Rdb)
	// Set a pong handler to update the connection's last pong time
	lastPong := time.Now()
	conn.SetPongHandler(func(string) error {
		lastPong = time.Now()
		return nil
	})
	pingPeriod := 3 * time.Second
	timeout := 9 * time.Second
	var mu sync.Mutex // Mutex to synchronize writes to the WebSocket connection

	jsonData := emomint.SyncAccountStats(env.App.Db, &acct)
	if jsonData != nil {
		if err := conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			fmt.Println("Socket: Failed to send data:", err)
			return
		}
	}
	// Forward per-account notifications published by the worker
	go func() {
		pubsub := env.App.Rdb.Subscribe(ctx, emomint.NotifyChannel(acct.Id))
		defer pubsub.Close()

		ch := pubsub.Channel()
		for msg := range ch {
			var msgDecoded emomint.WsResponseData
			if err := json.Unmarshal([]byte(msg.Payload), &msgDecoded); err == nil {
				env.App.Rdb.Set(ctx, fmt.Sprintf("notification_cache@%d:%d", acct.Id, msgDecoded.Data.Id), msg.Payload, 1*time.Hour)
			}
		}
	}()
	// Listen for commands via ws
	go func() {
		defer conn.Close()
		for {
			messageType, p, err := conn.ReadMessage()
			if err != nil {
				log.Println(err)
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Println("Socket: Unhandled message type:", messageType)
				continue
			}
			message := string(p)
			var ackMsg struct {
				Type string `json:"type"`
				Id   int    `json:"id"`
			}
			if err := json.Unmarshal(p, &ackMsg); err == nil && ackMsg.Type == "ack" {
				// Remove the acknowledged message from Redis
				if _, err := env.App.Rdb.Del(ctx, fmt.Sprintf("notification_cache@%d:%d", acct.Id, ackMsg.Id)).Result(); err != nil {
					fmt.Println("failed to delete acknowledged message:", err)
				}
				continue
			}
			if message == "sync" {
				_ = env.App.Db.Where("address = ?", address).First(&acct)
				jsonData := emomint.SyncAccountStats(env.App.Db, &acct)
				if jsonData != nil {
					mu.Lock()
					if err := conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
						fmt.Println("Socket: Failed to send data:", err)
						mu.Unlock()
						return
					}
					mu.Unlock()
				}
			}
		}
	}()
	for {
		// Drain cached notifications the client has not acked yet
		iter := env.App.Rdb.Scan(ctx, 0, fmt.Sprintf("notification_cache@%d:*", acct.Id), 0).Iterator()
		for iter.Next(ctx) {
			lastNotification, _ := env.App.Rdb.Get(ctx, iter.Val()).Result()
			if len(lastNotification) > 0 {
				mu.Lock()
				if err := conn.WriteMessage(websocket.TextMessage, []byte(lastNotification)); err != nil {
					log.Println("Socket: Failed to send data:", err)
					mu.Unlock()
					return
				}
				mu.Unlock()
			}
		}
		if time.Since(lastPong) > timeout {
			log.Println("Socket: Client did not respond to ping, closing connection")
			return
		}
		mu.Lock()
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			mu.Unlock()
			return
		}
		mu.Unlock()
		time.Sleep(pingPeriod)
	}
}
