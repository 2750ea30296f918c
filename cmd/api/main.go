package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"huddle/api/internal/activity"
	"huddle/api/internal/app"
	"huddle/api/internal/authpw"
	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/search"
	"huddle/api/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	identity := authpw.NewService(dataStore)

	var blobs blob.Resolver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		resolver, err := blob.NewMinioResolver(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.AttachmentTTL)
		if err != nil {
			log.Fatalf("minio setup failed: %v", err)
		}
		blobs = resolver
		log.Printf("attachment URLs signed against %s/%s", cfg.MinioEndpoint, cfg.MinioBucket)
	} else {
		log.Printf("no blob store configured, attachment URLs disabled")
	}

	var sink activity.Sink
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSink, err := activity.NewRedisSink(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSink.Close()
		sink = redisSink
		log.Printf("activity feed enabled")
	} else {
		log.Printf("no Redis configured, activity feed disabled")
	}

	var searchIndex search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		searchIndex = meiliClient
		log.Printf("message search enabled")
	} else {
		log.Printf("no Meilisearch configured, message search disabled")
	}

	var mailer *email.Service
	if strings.TrimSpace(cfg.SMTPHost) != "" {
		mailer = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
		log.Printf("invite mail enabled via %s", cfg.SMTPHost)
	} else {
		log.Printf("no SMTP configured, invite mail disabled")
	}

	service := app.New(cfg, dataStore, identity, blobs, sink, searchIndex, mailer)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Huddle API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
