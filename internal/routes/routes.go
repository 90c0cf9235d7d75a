package routes

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/flood-relief/flood_relief/internal/apperr"
	"github.com/flood-relief/flood_relief/internal/auth"
	"github.com/flood-relief/flood_relief/internal/config"
	"github.com/flood-relief/flood_relief/internal/logging"
	"github.com/flood-relief/flood_relief/internal/middleware"
	"github.com/flood-relief/flood_relief/internal/notification"
	"github.com/flood-relief/flood_relief/internal/users"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if !d.Cfg.IsDev() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	// Inside Audit so recovered panics are still logged with their 500.
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(d.Cfg.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	RegisterHealthRoutes(app, d)

	// Services and handlers
	hasher, err := auth.NewBcryptHasher(d.Cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(d.Cfg.JWTSecret, d.Cfg.TokenTTL)
	if err != nil {
		return err
	}

	var repo users.Repository
	if d.DB != nil {
		repo = users.NewPostgresRepository(d.DB, d.Cfg.StoreTimeout)
	} else {
		d.Logger.Warn("no database configured, accounts are kept in memory")
		repo = users.NewMemoryRepository()
	}

	var (
		listing     users.ListingCache
		idempotency fiber.Handler
	)
	if d.Cache != nil {
		listing = users.NewRedisListingCache(d.Cache, d.Cfg.ListingCacheTTL)
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	userSvc := users.NewService(users.Deps{
		Repo:     repo,
		Hasher:   hasher,
		Tokens:   tokens,
		Cache:    listing,
		Notifier: notification.NewLoggerNotifier(d.Logger),
		Logger:   d.Logger,
	})
	userHandler := users.NewHandler(userSvc)

	RegisterUserRoutes(app, userHandler, middleware.JWTAuth(userSvc), idempotency)

	app.Use(func(*fiber.Ctx) error {
		return apperr.NotFound("Not Found")
	})

	return nil
}
