package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qbank-service/internal/app"
	"qbank-service/internal/auth"
	"qbank-service/internal/config"
	"qbank-service/internal/domain"
	"qbank-service/internal/infra/memory"
	pgloader "qbank-service/internal/infra/postgres"
	infraredis "qbank-service/internal/infra/redis"
	transport "qbank-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	progressTTL := config.TTLDuration(cfg.Redis.TTL, 0)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.PoolLoader = memory.NewStaticPoolLoader(samplePools())
	if pool != nil {
		loader = pgloader.NewPoolLoader(pool)
	}

	poolTTL := config.TTLDuration(cfg.Exam.PoolTTL, 10*time.Minute)
	var pools app.PoolRepository
	if redisClient != nil {
		pools = infraredis.NewPoolRepository(redisClient, loader, poolTTL)
	} else {
		pools = memory.NewPoolRepository(loader, poolTTL)
	}

	var stores transport.StoreProvider
	if redisClient != nil {
		stores = func(clientID string) app.ProgressStore {
			return infraredis.NewProgressStore(redisClient, clientID, progressTTL)
		}
	} else {
		backing := memory.NewProgressStore()
		stores = func(clientID string) app.ProgressStore {
			return backing.ForClient(clientID)
		}
	}

	policy := auth.NewPolicy(cfg.Exam.AccessCodes)
	wsHandler := transport.NewWSHandler(stores, pools, policy, cfg.PaperTimeSeconds())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting qbank service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// samplePools provides a minimal question set so the service runs without a
// database; production deployments load pools from Postgres.
func samplePools() map[string][]domain.Question {
	return map[string][]domain.Question{
		"Paper I": {
			{
				ID:            "p1-q1",
				Text:          "Which finding is the earliest indicator of hypoxia in an adult patient?",
				Options:       []string{"Cyanosis", "Restlessness", "Bradycardia", "Clubbing of the fingers"},
				CorrectAnswer: 1,
				Rationale:     "Restlessness and agitation appear before late signs such as cyanosis or bradycardia.",
			},
			{
				ID:            "p1-q2",
				Text:          "A normal respiratory rate for a resting adult is:",
				Options:       []string{"8-10 breaths/min", "12-20 breaths/min", "22-28 breaths/min", "30-36 breaths/min"},
				CorrectAnswer: 1,
				Rationale:     "The accepted adult range at rest is 12 to 20 breaths per minute.",
			},
			{
				ID:            "p1-q3",
				Text:          "The Trendelenburg position places the patient:",
				Options:       []string{"Supine with the head lower than the feet", "Supine with the head elevated 30 degrees", "Side-lying with knees flexed", "Prone with arms at the sides"},
				CorrectAnswer: 0,
				Rationale:     "Trendelenburg is supine with the bed tilted so the head is below the feet.",
			},
		},
	}
}
