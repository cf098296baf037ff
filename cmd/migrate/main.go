package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/athsys-api/internal/db/migrate"
	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/repository"
	"github.com/noah-isme/athsys-api/pkg/config"
	"github.com/noah-isme/athsys-api/pkg/database"
	"github.com/noah-isme/athsys-api/pkg/logger"
)

func main() {
	var direction string
	var seed bool
	flag.StringVar(&direction, "direction", migrate.DirectionUp, "migration direction: up or down")
	flag.BoolVar(&seed, "seed", false, "create the bootstrap administrator from SEED_ADMIN_* after migrating up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := migrate.Run(cfg.Database.URL(), direction); err != nil {
		logr.Fatal("migration failed", zap.String("direction", direction), zap.Error(err))
	}
	logr.Info("migrations applied", zap.String("direction", direction))

	if !seed || direction != migrate.DirectionUp {
		return
	}
	if err := seedAdmin(cfg, logr); err != nil {
		logr.Fatal("seeding failed", zap.Error(err))
	}
}

func seedAdmin(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Seed.AdminEmail == "" || cfg.Seed.AdminPassword == "" {
		return errors.New("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD are required to seed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Seed.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &models.User{
		Name:         cfg.Seed.AdminName,
		Email:        cfg.Seed.AdminEmail,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
	}
	if err := repository.NewUserRepository(conn).Create(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logr.Info("administrator already exists", zap.String("email", user.Email))
			return nil
		}
		return err
	}
	logr.Info("administrator created", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return nil
}
