// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/auth"
	"github.com/stemplay/realtime/internal/config"
	"github.com/stemplay/realtime/internal/database"
	"github.com/stemplay/realtime/internal/handlers"
	"github.com/stemplay/realtime/internal/matchmaking"
	"github.com/stemplay/realtime/internal/middleware"
	"github.com/stemplay/realtime/internal/relay"
	"github.com/stemplay/realtime/internal/results"
	"github.com/stemplay/realtime/internal/room"
	"github.com/stemplay/realtime/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.Load()

	if err := auth.Init(); err != nil {
		logger.Fatalf("auth init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Connect(ctx); err != nil {
		// The realtime layer still works without persistence; players just
		// get guest profiles and results go through the Redis queue.
		logger.Warnf("database unavailable: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	reg := session.NewRegistry(logger)
	rooms := room.NewStore(cfg.RoomEvictDelay, logger)
	queue := matchmaking.NewQueue(cfg.MatchPassInterval, logger)
	recorder := results.NewRecorder(rdb, cfg.ResultQueueName, logger)
	srv := handlers.NewServer(reg, rooms, queue, relay.New(reg, rooms), recorder, logger)

	supervisor := session.NewSupervisor(reg, cfg.HeartbeatInterval, cfg.HeartbeatMissLimit, logger)
	supervisor.OnDead = srv.DropConnection
	go supervisor.Run(ctx)
	go queue.Run(ctx)

	logmw := middleware.LogMiddleware(logger)
	mux := http.NewServeMux()

	// user endpoints
	mux.Handle("POST /user/create", logmw(http.HandlerFunc(handlers.CreateUserHandler)))
	mux.Handle("POST /user/login", logmw(http.HandlerFunc(handlers.LoginHandler)))

	// realtime websocket
	mux.Handle("/ws", logmw(http.HandlerFunc(srv.ServeWS)))

	// room endpoints
	mux.Handle("POST /rooms/create", logmw(http.HandlerFunc(srv.CreateRoomHandler)))
	mux.Handle("GET /rooms/list", logmw(http.HandlerFunc(srv.ListRoomsHandler)))
	mux.Handle("GET /rooms/mine", logmw(http.HandlerFunc(srv.MyRoomHandler)))
	mux.Handle("POST /rooms/{id}/join", logmw(http.HandlerFunc(srv.JoinRoomHandler)))
	mux.Handle("POST /matchmake", logmw(http.HandlerFunc(srv.MatchmakeHandler)))

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown error: %v", err)
		}
	}()

	logger.Infof("Running on :%s", cfg.Port)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}
