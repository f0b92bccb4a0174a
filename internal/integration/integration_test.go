package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"qbank-service/internal/app"
	"qbank-service/internal/auth"
	"qbank-service/internal/domain"
	pgloader "qbank-service/internal/infra/postgres"
	pgmigrations "qbank-service/internal/infra/postgres/migrations"
	infraredis "qbank-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestExamProgressEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedPaper(t, ctx, pgURL, "Paper I", samplePool())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewPoolLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	pools := infraredis.NewPoolRepository(redisClient, loader, 5*time.Minute)
	store := infraredis.NewProgressStore(redisClient, "client-1", 0)
	confirm := app.ConfirmerFunc(func(context.Context, string, string) bool { return true })

	service := app.NewProgressService(store, pools, auth.NewPolicy(nil), confirm, 7200)
	if err := service.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := service.Register(ctx, "user@test.com", "246811"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := service.StartOrResume(ctx, "Paper I"); err != nil {
		t.Fatalf("start: %v", err)
	}

	session := service.Snapshot().Sessions["Paper I"]
	if session == nil || len(session.Questions) != 2 {
		t.Fatalf("expected 2 shuffled questions from postgres, got %+v", session)
	}

	correct := session.Questions[0].CorrectAnswer
	service.RecordAnswer(ctx, "Paper I", session.Questions[0].ID, &correct)
	service.Submit(ctx, "Paper I")

	score, total, ok := service.Score("Paper I")
	if !ok || score != 1 || total != 2 {
		t.Fatalf("expected score 1/2, got %d/%d ok=%v", score, total, ok)
	}

	// A second process restores the same blob: progress intact, identity not.
	restored := app.NewProgressService(store, pools, auth.NewPolicy(nil), confirm, 7200)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore second service: %v", err)
	}
	progress := restored.Snapshot()
	if progress.UserEmail != "" {
		t.Fatalf("live identity must not round-trip, got %q", progress.UserEmail)
	}
	if progress.LastActiveEmail != "user@test.com" {
		t.Fatalf("expected lastActiveEmail persisted, got %q", progress.LastActiveEmail)
	}
	restoredSession := progress.Sessions["Paper I"]
	if restoredSession == nil || !restoredSession.IsCompleted || restoredSession.Score() != 1 {
		t.Fatalf("expected completed session with score 1 after restore, got %+v", restoredSession)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "qbank", "POSTGRES_PASSWORD": "qbankpass", "POSTGRES_DB": "qbankdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://qbank:qbankpass@%s:%s/qbankdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedPaper(t *testing.T, ctx context.Context, dsn, paperID string, questions []domain.Question) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal pool: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO papers (id, questions) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET questions=EXCLUDED.questions`, paperID, string(data)); err != nil {
		t.Fatalf("insert paper: %v", err)
	}
}

func samplePool() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "First sign of hypoxia?", Options: []string{"Cyanosis", "Restlessness", "Bradycardia", "Clubbing"}, CorrectAnswer: 1, Rationale: "Restlessness is the earliest indicator."},
		{ID: "q2", Text: "Universal donor blood type?", Options: []string{"A", "B", "AB", "O negative"}, CorrectAnswer: 3, Rationale: "O negative lacks A, B, and Rh antigens."},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
