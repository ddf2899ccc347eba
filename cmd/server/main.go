// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/imposter-gg/imposter-server/internal/auth"
	"github.com/imposter-gg/imposter-server/internal/game"
	"github.com/imposter-gg/imposter-server/internal/handlers"
	"github.com/imposter-gg/imposter-server/internal/lobby"
	"github.com/imposter-gg/imposter-server/internal/middleware"
	"github.com/imposter-gg/imposter-server/internal/prefs"
	"github.com/imposter-gg/imposter-server/internal/store"
)

func main() {
	logger := logrus.New()
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Persisted keys keep sessions valid across restarts; without them a
	// fresh pair is generated and existing cookies become invalid.
	priv, pub := os.Getenv("AUTH_PRIVATE_KEY_FILE"), os.Getenv("AUTH_PUBLIC_KEY_FILE")
	if priv != "" && pub != "" {
		if err := auth.InitFromPath(priv, pub); err != nil {
			logger.Fatalf("failed to load session keys: %v", err)
		}
	} else {
		auth.Init()
	}

	ctx := context.Background()

	st, pstore, err := connectStores(ctx)
	if err != nil {
		logger.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	lobbies := lobby.NewService(st, logger)
	rounds := game.NewRounds(st, lobbies, logger)
	srv := handlers.NewServer(lobbies, rounds, pstore, logger)

	logged := middleware.LogMiddleware(logger)

	mux := http.NewServeMux()
	mux.Handle("/lobby/create", logged(handlers.CreateLobbyHandler(srv)))
	mux.Handle("/lobby/join", logged(handlers.JoinLobbyHandler(srv)))
	mux.Handle("/lobby/status", logged(handlers.SetStatusHandler(srv)))
	mux.Handle("/lobby/reveal", logged(handlers.RevealHandler(srv)))
	mux.Handle("/lobby/", logged(handlers.GetLobbyHandler(srv)))
	mux.Handle("/prefs", logged(handlers.PrefsHandler(srv)))

	// The ws route stays outside LogMiddleware: the upgrade needs the raw
	// http.Hijacker, which the logging wrapper hides.
	mux.Handle("/lobby/ws/", http.HandlerFunc(handlers.LobbyWSHandler(logger, srv)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  0, // websockets hold connections open
		WriteTimeout: 0,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", addr)
		errc <- server.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("server exited: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown error: %v", err)
		}
	}
}

// connectStores picks the document store backend from STORE_BACKEND
// (memory | redis | postgres) and a matching prefs store. Prefs ride on
// redis whenever a redis connection is configured; otherwise they stay
// in process memory.
func connectStores(ctx context.Context) (store.Store, prefs.Store, error) {
	backend := getEnv("STORE_BACKEND", "memory")

	switch backend {
	case "redis":
		addr := getEnv("REDIS_ADDR", "localhost:6379")
		db := getEnvInt("REDIS_DB", 0)
		st, err := store.ConnectRedis(ctx, addr, db)
		if err != nil {
			return nil, nil, err
		}
		pclient := redis.NewClient(&redis.Options{Addr: addr, DB: db})
		return st, prefs.NewRedisStore(pclient), nil

	case "postgres":
		st, err := store.ConnectPostgres(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			return nil, nil, err
		}
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			pclient := redis.NewClient(&redis.Options{Addr: addr, DB: getEnvInt("REDIS_DB", 0)})
			return st, prefs.NewRedisStore(pclient), nil
		}
		return st, prefs.NewMemoryStore(), nil

	default:
		return store.NewMemory(), prefs.NewMemoryStore(), nil
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
