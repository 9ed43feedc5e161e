package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medprep-battle-service/internal/app"
	"medprep-battle-service/internal/config"
	"medprep-battle-service/internal/domain"
	"medprep-battle-service/internal/infra/memory"
	pginfra "medprep-battle-service/internal/infra/postgres"
	redisinfra "medprep-battle-service/internal/infra/redis"
	transport "medprep-battle-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the battle room coordinator",
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

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var rooms app.RoomRepository
	if pool != nil {
		rooms = pginfra.NewRoomRepository(pool)
	} else {
		rooms = memory.NewRoomStore()
	}

	var feed app.ChangeFeed
	if redisClient != nil {
		feed = redisinfra.NewFeed(redisClient)
	} else {
		feed = memory.NewFeed()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestionSets())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	service := app.NewBattleService(rooms, feed, questions)

	pollInterval := config.Duration(cfg.Battle.PollInterval, 3*time.Second)
	watcher := app.NewWatcher(rooms, feed, pollInterval)
	coord := app.NewCoordinator(service, watcher, time.Now, time.Second)

	reaperInterval := config.Duration(cfg.Battle.ReaperInterval, time.Minute)
	reaperGrace := config.Duration(cfg.Battle.ReaperGrace, 2*time.Minute)
	reaper := app.NewReaper(service, reaperInterval, reaperGrace)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go reaper.Run(runCtx)

	wsHandler := transport.NewWSHandler(service, watcher, coord)

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
		log.Printf("starting battle service on :%s", finalPort)
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

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets seeds a couple of subjects for local runs without Postgres.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"anatomy": {
			Subject: "anatomy",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "Which bone is the longest in the human body?",
					Options: []domain.Option{
						{ID: "o1", Text: "Humerus", Correct: false},
						{ID: "o2", Text: "Femur", Correct: true},
						{ID: "o3", Text: "Tibia", Correct: false},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Prompt: "How many chambers does the human heart have?",
					Options: []domain.Option{
						{ID: "o1", Text: "2", Correct: false},
						{ID: "o2", Text: "3", Correct: false},
						{ID: "o3", Text: "4", Correct: true},
					},
					Points: 1,
				},
			},
		},
		"pharmacology": {
			Subject: "pharmacology",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "Which drug class does atenolol belong to?",
					Options: []domain.Option{
						{ID: "o1", Text: "Beta blockers", Correct: true},
						{ID: "o2", Text: "ACE inhibitors", Correct: false},
						{ID: "o3", Text: "Diuretics", Correct: false},
					},
					Points: 1,
				},
			},
		},
	}
}
