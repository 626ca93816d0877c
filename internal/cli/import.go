package cli

import (
	"fmt"

	"brainquiz-service/internal/config"
	"brainquiz-service/internal/infra/memory"
	"brainquiz-service/internal/infra/postgres"
	redisinfra "brainquiz-service/internal/infra/redis"
	"brainquiz-service/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewImportCmd loads a JSON question bank into Postgres.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Upsert a JSON question bank into Postgres",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Env, cfg.Log.File)
			if err != nil {
				return err
			}
			defer log.Sync()

			path := cfg.Quiz.BankPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no question bank file given")
			}
			questions, err := memory.ReadQuestionsFile(path)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := runMigrations(ctx, cfg, log); err != nil {
				return err
			}
			db, err := openBun(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := postgres.NewQuestionImporter(db).Import(ctx, questions)
			if err != nil {
				return err
			}
			log.Info("question bank imported", zap.String("file", path), zap.Int("questions", n))

			if cfg.Redis.Addr != "" {
				client := newRedisClient(cfg)
				defer client.Close()
				if err := redisinfra.NewQuestionRepository(client, nil, 0).Invalidate(ctx); err != nil {
					log.Warn("invalidate cached bank", zap.Error(err))
				}
			}
			return nil
		},
	}
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
