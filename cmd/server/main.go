package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"codeloom/internal/auth"
	"codeloom/internal/builder"
	"codeloom/internal/chat"
	"codeloom/internal/config"
	"codeloom/internal/credit"
	"codeloom/internal/database"
	"codeloom/internal/email"
	"codeloom/internal/logging"
	"codeloom/internal/project"
	redisx "codeloom/internal/redis"
	"codeloom/internal/server"
	"codeloom/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logOutput := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		fw, err := logging.NewRotatingFileWriter(cfg.LogFile, 32<<20, 5)
		if err != nil {
			log.Fatalf("log setup error: %v", err)
		}
		defer fw.Close()
		logOutput = io.MultiWriter(os.Stdout, fw)
	}
	log.SetOutput(logOutput)
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lshortfile)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer db.Close()

	redisClient, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer redisClient.Close()

	objects, err := storage.New(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("object storage error: %v", err)
	}

	api := server.NewServer(cfg, server.Deps{
		Users:       auth.NewUserRepository(db),
		Sessions:    &auth.SessionStore{Redis: redisClient},
		RateLimiter: &auth.RateLimiter{Redis: redisClient},
		Audit:       &auth.AuditLogger{Redis: redisClient, MaxLen: 500},
		Mailer:      email.NewSender(cfg.Email),
		States:      &auth.StateStore{Redis: redisClient},
		Objects:     objects,
		Projects:    project.NewRepository(db),
		Chats:       chat.NewRepository(db),
		Credits:     credit.NewRepository(db),
		Builder:     builder.NewClient(cfg.Builder.APIURL, cfg.Builder.APIKey),
		Tokens:      auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL),
		TOTP:        auth.NewTOTPService(cfg.TOTPIssuer),
		Hasher:      auth.NewBcryptHasher(),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Router(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	log.Printf("Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
