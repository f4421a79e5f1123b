package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kuttab/polls/api"
	"github.com/kuttab/polls/auth"
	"github.com/kuttab/polls/config"
	"github.com/kuttab/polls/database"
	"github.com/kuttab/polls/logging"
	"github.com/kuttab/polls/service"
	"github.com/kuttab/polls/sse"
	"github.com/sirupsen/logrus"
)

func main() {
	issueFor := flag.String("token", "", "print a signed token for this user id and exit")
	role := flag.String("role", auth.RoleUser, "role claimed by the token printed with -token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Logger.WithFields(logrus.Fields{"module": "main", "error": err}).Fatal("invalid configuration")
	}
	logging.Configure(cfg.LogLevel, cfg.IsProduction())
	log := logging.Logger.WithFields(logrus.Fields{"module": "main"})

	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	if *issueFor != "" {
		token, err := authenticator.IssueToken(*issueFor, *role, 24*time.Hour)
		if err != nil {
			log.WithField("error", err).Fatal("failed to sign token")
		}
		fmt.Println(token)
		return
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, cleanup := openStore(cfg)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := sse.NewBroker()
	go broker.Listen(ctx)

	polls := service.NewPollService(store, broker, cfg.MaxVoteRetries)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewRouter(polls, authenticator, broker),
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// stopping the broker ends open event streams
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("forced shutdown")
	}
}

func openStore(cfg config.Config) (service.Store, func()) {
	log := logging.Logger.WithFields(logrus.Fields{"module": "main", "method": "openStore"})
	if cfg.UseMemoryStore {
		log.Warn("using the in-memory store, data is lost on restart")
		return database.NewMemoryStore(), func() {}
	}

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		log.WithField("error", err).Fatal("failed to connect to MongoDB")
	}

	store := database.NewMongoStore(client, cfg.MongoDatabase)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureIndexes(ctx); err != nil {
		log.WithField("error", err).Fatal("failed to create indexes")
	}
	return store, func() { database.Disconnect(client) }
}
