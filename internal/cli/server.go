package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brainquiz-service/internal/app"
	"brainquiz-service/internal/config"
	"brainquiz-service/internal/domain"
	"brainquiz-service/internal/gate"
	"brainquiz-service/internal/infra/memory"
	pgloader "brainquiz-service/internal/infra/postgres"
	redisinfra "brainquiz-service/internal/infra/redis"
	"brainquiz-service/internal/logger"
	"brainquiz-service/internal/metrics"
	transport "brainquiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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
	log, err := logger.New(cfg.Log.Env, cfg.Log.File)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
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
		redisClient = newRedisClient(cfg)
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	loader := questionLoader(cfg, pool)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var questions app.QuestionRepository
	var engines app.EngineRepository
	var prefs app.PreferencesRepository
	if redisClient != nil {
		node, _ := os.Hostname()
		questions = redisinfra.NewQuestionRepository(redisClient, loader, quizTTL)
		engines = redisinfra.NewSessionStore(redisClient, redisTTL, node)
		prefs = redisinfra.NewPreferencesStore(redisClient)
	} else {
		questions = memory.NewQuestionRepository(loader, quizTTL)
		engines = memory.NewSessionStore()
		prefs = memory.NewPreferencesStore()
	}

	m := metrics.New()
	service := app.NewQuizService(engines, questions, prefs,
		app.WithLogger(log.Named("quiz")),
		app.WithObserver(m),
	)

	handler, err := newMux(cfg, service, m, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// questionLoader picks the bank source: Postgres when configured, else the JSON file,
// else a built-in demo bank.
func questionLoader(cfg config.Config, pool *pgxpool.Pool) memory.QuestionLoader {
	switch {
	case pool != nil:
		return pgloader.NewQuestionLoader(pool)
	case cfg.Quiz.BankPath != "":
		return memory.NewFileQuestionLoader(cfg.Quiz.BankPath)
	default:
		return memory.NewStaticQuestionLoader(sampleQuestions())
	}
}

func newMux(cfg config.Config, service *app.QuizService, m *metrics.Metrics, log *zap.Logger) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ws", transport.NewWSHandler(service, log.Named("ws")).ServeWS)
	mux.Handle("/api/catalog", m.Middleware("/api/catalog", transport.NewCatalogHandler(service, log)))

	site, err := gate.Upstream(cfg.Gate.Upstream, staticDir(cfg))
	if err != nil {
		return nil, err
	}
	if cfg.Gate.Enabled {
		site = gate.New(site, gate.Options{
			UnauthorizedPath: cfg.Gate.UnauthorizedPath,
			MD5:              cfg.Gate.MD5,
			LibraryURL:       cfg.Gate.LibraryURL,
			Logger:           log.Named("gate"),
			Recorder:         m,
		})
	}
	mux.Handle("/", site)
	return mux, nil
}

func staticDir(cfg config.Config) string {
	if cfg.Server.StaticDir == "" {
		return "public"
	}
	return cfg.Server.StaticDir
}

// sampleQuestions is the demo bank served when neither Postgres nor a bank file is configured.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:              1,
			Text:            "Which chamber of the heart pumps oxygenated blood to the body?",
			Choices:         []domain.Choice{{ID: 1, Text: "Right atrium"}, {ID: 2, Text: "Left ventricle"}, {ID: 3, Text: "Right ventricle"}},
			CorrectChoiceID: 2,
			Difficulty:      domain.DifficultyBeginner,
			SubjectIDs:      []int{1},
			Tags:            []string{"cardiology"},
			Solution:        "The left ventricle pumps blood into the aorta.",
		},
		{
			ID:              2,
			Text:            "Which vitamin deficiency causes scurvy?",
			Choices:         []domain.Choice{{ID: 1, Text: "Vitamin A"}, {ID: 2, Text: "Vitamin D"}, {ID: 3, Text: "Vitamin C"}},
			CorrectChoiceID: 3,
			Difficulty:      domain.DifficultyIntermediate,
			SubjectIDs:      []int{2},
			Tags:            []string{"nutrition"},
		},
	}
}
