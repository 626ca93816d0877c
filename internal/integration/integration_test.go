package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"brainquiz-service/internal/app"
	"brainquiz-service/internal/domain"
	pgstore "brainquiz-service/internal/infra/postgres"
	pgmigrations "brainquiz-service/internal/infra/postgres/migrations"
	infraredis "brainquiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestQuizLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestions(t, ctx, pgURL, sampleQuestions())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	questions := infraredis.NewQuestionRepository(redisClient, pgstore.NewQuestionLoader(pool), 5*time.Minute)
	engines := infraredis.NewSessionStore(redisClient, 5*time.Minute, "it-node")
	prefs := infraredis.NewPreferencesStore(redisClient)
	service := app.NewQuizService(engines, questions, prefs)

	snap, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest, QuestionIDs: []int{1, 2}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(snap.Questions) != 2 || snap.Questions[0].Text != "What is 2 + 2?" {
		t.Fatalf("expected questions loaded from postgres, got %+v", snap.Questions)
	}
	if n, err := redisClient.Exists(ctx, infraredis.BankKey).Result(); err != nil || n != 1 {
		t.Fatalf("expected bank cached in redis, got n=%d err=%v", n, err)
	}

	service.Answer("u1", 1, 2)
	service.Answer("u1", 2, 1)
	done := service.Complete("u1")
	want := domain.Score{Correct: 1, Incorrect: 1, Unanswered: 0, Percentage: 50}
	if done == nil || done.Score == nil || *done.Score != want {
		t.Fatalf("expected %+v, got %+v", want, done)
	}

	stored, err := prefs.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load prefs: %v", err)
	}
	if stored.UserStats.TotalQuestionsAttempted != 2 || stored.UserStats.CorrectAnswers != 1 {
		t.Fatalf("expected stats in redis, got %+v", stored.UserStats)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
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

func seedQuestions(t *testing.T, ctx context.Context, dsn string, questions []domain.Question) {
	t.Helper()
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
	n, err := pgstore.NewQuestionImporter(db).Import(ctx, questions)
	if err != nil {
		t.Fatalf("import questions: %v", err)
	}
	if n != len(questions) {
		t.Fatalf("expected %d rows imported, got %d", len(questions), n)
	}
	// Re-importing upserts instead of failing on the primary key.
	if _, err := pgstore.NewQuestionImporter(db).Import(ctx, questions); err != nil {
		t.Fatalf("re-import questions: %v", err)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:              1,
			Text:            "What is 2 + 2?",
			Choices:         []domain.Choice{{ID: 1, Text: "3"}, {ID: 2, Text: "4"}, {ID: 3, Text: "5"}},
			CorrectChoiceID: 2,
			Difficulty:      domain.DifficultyBeginner,
			SubjectIDs:      []int{1},
			Tags:            []string{"math"},
		},
		{
			ID:              2,
			Text:            "Which organ filters blood?",
			Choices:         []domain.Choice{{ID: 1, Text: "Lung"}, {ID: 2, Text: "Kidney"}},
			CorrectChoiceID: 2,
			Difficulty:      domain.DifficultyIntermediate,
			SubjectIDs:      []int{2},
			Tags:            []string{"renal"},
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
