package emomint

import (
	"os"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// App bundles the shared clients used by the API process.
type App struct {
	Rdb *redis.Client
	Db  *gorm.DB
	Aqc *asynq.Client
	Aqi *asynq.Inspector
}

// AppWorker bundles the clients used by the background worker process that
// consumes grading verdicts and pipeline stage events.
type AppWorker struct {
	Rdb *redis.Client
	Db  *gorm.DB
	Aqs *asynq.Server
	Aqc *asynq.Client
}

func Init() *App {
	loadEnv()
	redisClient := setupRedis()
	db := setupDb()
	asynqClient := setupAsynqClient()
	asynqInspector := setupAsynqInspector()

	app := &App{
		Rdb: redisClient,
		Db:  db,
		Aqc: asynqClient,
		Aqi: asynqInspector,
	}
	SeedConfig(app.Rdb)
	return app
}

func InitWorker() *AppWorker {
	loadEnv()
	redisClient := setupRedis()
	db := setupDb()
	asynqServer := setupAsynqServer()
	asynqClient := setupAsynqClient()

	app := &AppWorker{
		Rdb: redisClient,
		Db:  db,
		Aqs: asynqServer,
		Aqc: asynqClient,
	}
	SeedConfig(app.Rdb)
	return app
}

func setupRedis() *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	return redisClient
}

func setupDb() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		panic("failed to connect to the db")
	}
	if err := Migrate(db); err != nil {
		panic("failed to run migrations")
	}
	return db
}

// Migrate creates or updates the schema for every persisted model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&Task{},
		&Transaction{},
		&ClaimTicket{},
		&InviteCode{},
		&Invitee{},
	)
}

func setupAsynqClient() *asynq.Client {
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqClient
}

func setupAsynqInspector() *asynq.Inspector {
	asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqInspector
}

func setupAsynqServer() *asynq.Server {
	concurency, err := strconv.Atoi(os.Getenv("WORKER_SCALE"))
	if err != nil {
		concurency = 10
	}
	asynqServer := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		asynq.Config{
			Concurrency: concurency,
			Queues: map[string]int{
				"pipeline": 3,
				"grading":  2,
			},
		},
	)
	return asynqServer
}

func loadEnv() {
	env := os.Getenv("APP_ENV")
	if "" == env {
		env = "development"
	}

	godotenv.Load(".env." + env + ".local")

	if "test" != env {
		godotenv.Load(".env.local")
	}
	godotenv.Load(".env." + env)
	godotenv.Load()
}
