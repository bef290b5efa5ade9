package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/biorel/backend/internal/queue"
	mid "github.com/OFFIS-RIT/biorel/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/biorel/backend/internal/server/sessions"
	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the HTTP server around app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(util.GetEnvString("BODY_LIMIT", "64M")))

	RegisterRoutes(e)
	return e
}

// Init wires the application from the environment and serves until
// SIGINT or SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &mid.App{
		PendingDir:     bootstrap.PendingDir(),
		TopK:           bootstrap.TopK(),
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("[Server] Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	} else {
		logger.Warn("[Server] AUTH_URL not set, only the master API key is accepted")
	}

	stores, err := bootstrap.NewStores(ctx)
	if err != nil {
		logger.Fatal("[Server] Failed to connect stores", "err", err)
	}
	defer stores.Close(context.Background())

	aiClient, err := bootstrap.NewAIClient()
	if err != nil {
		logger.Fatal("[Server] Failed to create AI client", "err", err)
	}
	ingestor, err := bootstrap.NewIngestor(ctx, aiClient, stores.Vector)
	if err != nil {
		logger.Fatal("[Server] Failed to create ingestor", "err", err)
	}
	pipeline, err := bootstrap.NewPipeline(aiClient, stores.Vector, nil)
	if err != nil {
		logger.Fatal("[Server] Failed to create query pipeline", "err", err)
	}
	app.Ingestor = ingestor
	app.Pipeline = pipeline
	app.Graph = stores.Graph
	if stores.Locker != nil {
		app.Locker = stores.Locker
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		conn, err := queue.Init()
		if err != nil {
			logger.Fatal("[Server] Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("[Server] Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
			logger.Fatal("[Server] Failed to declare queues", "err", err)
		}
		app.Queue = ch
	}

	app.Sessions = sessions.NewRegistry(sessions.NewRegistryParams{
		Graph:   stores.Graph,
		Log:     stores.Decisions,
		IdleTTL: time.Duration(util.GetEnvNumeric("SESSION_IDLE_MIN", int(sessions.DefaultIdleTTL/time.Minute))) * time.Minute,
	})
	go app.Sessions.Run(ctx, 5*time.Minute)

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("[Server] Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("[Server] Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] Failed to shutdown server", "err", err)
	}
}
