// README: Wires config into stores, services and notification channels shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"zerowaste/internal/config"
	"zerowaste/internal/infra"
	"zerowaste/internal/modules/category"
	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/expiry"
	"zerowaste/internal/modules/location"
	"zerowaste/internal/modules/matching"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/modules/request"
	"zerowaste/internal/modules/user"
)

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Verifier infra.TokenVerifier
	Hub      *notify.Hub

	Users      *user.Service
	Categories *category.Service
	Donations  *donation.Service
	Requests   *request.Service
	Matching   *matching.Service
	Expiry     *expiry.Service

	closers []func() error
}

// New connects to every configured backend and wires the services.
// Optional backends (Kafka, Maps, FCM) are skipped when unconfigured.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.DB = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	a.Hub = notify.NewHub(logger)
	channels := notify.Multi{a.Hub}

	if cfg.Firebase.ProjectID != "" {
		fb, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("firebase: %w", err)
		}
		if cfg.Auth.Mode == "firebase" {
			if a.Verifier, err = infra.NewFirebaseVerifier(ctx, fb); err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("firebase auth: %w", err)
			}
		}
		msg, err := fb.Messaging(ctx)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		channels = append(channels, notify.NewFCM(msg, logger))
	}
	if cfg.Auth.Mode == "jwt" {
		a.Verifier = infra.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		outbox := notify.NewOutbox(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, outbox.Close)
		channels = append(channels, outbox)
	}
	channels = append(channels, notify.Log{Logger: logger})

	var geocoder location.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := location.NewMapsGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("maps: %w", err)
		}
		geocoder = g
	}
	locations := location.NewService(location.NewStore(rdb), geocoder)

	a.Users = user.NewService(user.NewStore(pool), locations, logger)
	a.Categories = category.NewService(category.NewStore(pool))

	donationStore := donation.NewStore(pool)
	a.Donations = donation.NewService(donationStore, locations, a.Users, channels, logger)
	a.Requests = request.NewService(request.NewStore(pool), a.Donations, a.Users, channels, logger)
	a.Matching = matching.NewService(
		matching.NewStore(locations, a.Donations),
		a.Donations,
		a.Users,
		cfg.Matching.RadiusKm,
	)
	a.Expiry = expiry.NewService(a.Donations, a.Users, channels, a.Matching, expiry.NewRedisLock(rdb), logger, expiry.Options{
		LockTTL:         cfg.Sweep.LockTTL,
		AlertRadiusKm:   cfg.Sweep.AlertRadiusKm,
		AlertRecipients: matching.DefaultRecipientLimit,
	})
	return a, nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
