package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
	pgloader "trivia-live-service/internal/infra/postgres"
	pgmigrations "trivia-live-service/internal/infra/postgres/migrations"
	infraredis "trivia-live-service/internal/infra/redis"
)

func TestFullGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestions(t, ctx, pgURL, sampleQuestionSets())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuestionLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	questionRepo := infraredis.NewQuestionRepository(redisClient, loader, 5*time.Minute)
	store := infraredis.NewStore(redisClient)
	accumulators := infraredis.NewAccumulatorStore(redisClient, time.Hour)
	service := app.NewGameService(store, questionRepo, accumulators)

	if err := service.EnsureGameState(ctx); err != nil {
		t.Fatalf("ensure state: %v", err)
	}
	for _, p := range []struct{ uid, email, team string }{
		{"u1", "alice@example.com", "Team A"},
		{"u2", "bob@example.com", "Team B"},
	} {
		if _, err := service.EnsureProfile(ctx, p.uid, p.email, p.team); err != nil {
			t.Fatalf("join %s: %v", p.uid, err)
		}
	}

	// Round 1: one correct answer, one wrong, final flush for both.
	if err := service.EnableRound1(ctx); err != nil {
		t.Fatalf("enable round 1: %v", err)
	}
	if err := service.StartTimer(ctx, 90); err != nil {
		t.Fatalf("start timer: %v", err)
	}
	outcome, err := service.SubmitRound1Answer(ctx, "u1", "gopher", 60)
	if err != nil {
		t.Fatalf("submit u1: %v", err)
	}
	if !outcome.Correct || outcome.Points != 150 {
		t.Fatalf("expected correct for 150 points, got %+v", outcome)
	}
	if _, err := service.SubmitRound1Answer(ctx, "u2", "wrong", 70); err != nil {
		t.Fatalf("submit u2: %v", err)
	}
	for _, uid := range []string{"u1", "u2"} {
		if _, err := service.SubmitFinalRound1Score(ctx, uid); err != nil {
			t.Fatalf("flush %s: %v", uid, err)
		}
	}

	// Round 2: qualification, a buzz and an admin verdict.
	if err := service.EnableRound2(ctx); err != nil {
		t.Fatalf("enable round 2: %v", err)
	}
	if err := service.EnableRound2Buzzer(ctx); err != nil {
		t.Fatalf("open buzzer: %v", err)
	}
	if _, created, err := service.PressBuzzer(ctx, "u1", 420); err != nil || !created {
		t.Fatalf("press: created=%v err=%v", created, err)
	}
	if err := service.ScoreBuzzerResponse(ctx, "u1", 1, domain.BuzzerCorrectPoints); err != nil {
		t.Fatalf("score buzz: %v", err)
	}

	board, err := service.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].UID != "u1" {
		t.Fatalf("expected u1 leading, got %+v", board)
	}
	if board[0].TotalScore != 170 {
		t.Fatalf("expected total 170 (150 round 1 + 20 buzzer), got %d", board[0].TotalScore)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "trivia", "POSTGRES_PASSWORD": "triviapass", "POSTGRES_DB": "triviadb"},
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
	dsn := fmt.Sprintf("postgres://trivia:triviapass@%s:%s/triviadb?sslmode=disable", host, port.Port())
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

func seedQuestions(t *testing.T, ctx context.Context, dsn string, sets map[int]domain.QuestionSet) {
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

	for round, set := range sets {
		data, err := json.Marshal(set)
		if err != nil {
			t.Fatalf("marshal set %d: %v", round, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO question_sets (round, data) VALUES (?, ?::jsonb) ON CONFLICT (round) DO UPDATE SET data=EXCLUDED.data`, round, string(data)); err != nil {
			t.Fatalf("insert set %d: %v", round, err)
		}
	}
}

func sampleQuestionSets() map[int]domain.QuestionSet {
	return map[int]domain.QuestionSet{
		1: {
			Round: 1,
			Questions: []domain.Question{
				{Round: 1, Number: 1, Prompt: "Mascot of the Go project", Word: "GOPHER"},
				{Round: 1, Number: 2, Prompt: "Typed conduit for goroutines", Word: "CHANNEL"},
			},
		},
		2: {
			Round: 2,
			Questions: []domain.Question{
				{Round: 2, Number: 1, Prompt: "Keyword that starts a goroutine", Word: "GO"},
			},
		},
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
