package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/teleclinic/teleclinic/internal/config"
	"github.com/teleclinic/teleclinic/internal/domain/scheduling"
	"github.com/teleclinic/teleclinic/internal/platform/auth"
	"github.com/teleclinic/teleclinic/internal/platform/db"
	"github.com/teleclinic/teleclinic/internal/platform/events"
	"github.com/teleclinic/teleclinic/internal/platform/locker"
	"github.com/teleclinic/teleclinic/internal/platform/middleware"
	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
	"github.com/teleclinic/teleclinic/internal/platform/validate"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "teleclinic-server",
		Short: "Telemedicine scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads config and connects; used by the one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for this command")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir := migrationsDir(cmd, cfg)
			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) from %s.\n", count, dir)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print a doctor's slots for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, _ := cmd.Flags().GetInt64("doctor")
			date, _ := cmd.Flags().GetString("date")
			freeOnly, _ := cmd.Flags().GetBool("free")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := cfg.Validate(); err != nil {
				return err
			}

			loc := cfg.Location()
			day, err := timeslot.ParseDate(date, loc)
			if err != nil {
				return err
			}
			st := postgresStores(pool)
			engine := scheduling.NewEngine(st.schedules, st.unavailability, st.appointments, scheduling.WithLocation(loc))
			slots, err := engine.Slots(ctx, scheduling.Query{DoctorID: doctorID, Date: day})
			if err != nil {
				return err
			}
			if freeOnly {
				slots = slots.Free()
			}
			printSlots(os.Stdout, doctorID, day, slots)
			return nil
		},
	}
	cmd.Flags().Int64("doctor", 0, "Doctor ID")
	cmd.Flags().String("date", time.Now().Format("2006-01-02"), "Calendar date (YYYY-MM-DD) in the clinic time zone")
	cmd.Flags().Bool("free", false, "Only list available slots")
	_ = cmd.MarkFlagRequired("doctor")
	return cmd
}

func printSlots(w io.Writer, doctorID int64, day time.Time, slots scheduling.SlotList) {
	fmt.Fprintf(w, "Doctor %d on %s (%s)\n", doctorID, day.Format("Mon 2006-01-02"), day.Location())
	if len(slots) == 0 {
		fmt.Fprintln(w, "no slots")
		return
	}
	fmt.Fprintf(w, "%-6s %-6s %s\n", "START", "END", "STATUS")
	for _, s := range slots {
		status := "booked/blocked"
		if s.Available {
			status = "free"
		}
		fmt.Fprintf(w, "%-6s %-6s %s\n", s.Start.Format("15:04"), s.End.Format("15:04"), status)
	}
}

// stores groups the repositories behind one backend.
type stores struct {
	schedules      scheduling.ScheduleRepository
	unavailability scheduling.UnavailabilityRepository
	appointments   scheduling.AppointmentRepository
	tx             scheduling.TxRunner
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		schedules:      scheduling.NewScheduleRepoPG(pool),
		unavailability: scheduling.NewUnavailabilityRepoPG(pool),
		appointments:   scheduling.NewAppointmentRepoPG(pool),
		tx:             db.NewTxRunner(pool),
	}
}

func memoryStores() (stores, *scheduling.MemoryStore) {
	m := scheduling.NewMemoryStore()
	return stores{
		schedules:      m.Schedules(),
		unavailability: m.Unavailability(),
		appointments:   m.Appointments(),
		tx:             m,
	}, m
}

// seedDemo gives the in-memory development store one doctor working
// weekdays 09:00-17:00.
func seedDemo(ctx context.Context, m *scheduling.MemoryStore, svc *scheduling.ScheduleService) error {
	m.AddDoctor(1)
	for day := time.Monday; day <= time.Friday; day++ {
		draft := svc.NewDraft(day).WithHours(timeslot.MustClock("09:00"), timeslot.MustClock("17:00"))
		if _, err := svc.PutWeeklyEntry(ctx, 1, draft); err != nil {
			return err
		}
	}
	return nil
}

type server struct {
	echo      *echo.Echo
	schedules *scheduling.ScheduleService
	reminders *scheduling.ReminderWorker
}

// newServer wires the HTTP surface and background worker over st.
func newServer(cfg *config.Config, logger zerolog.Logger, st stores, publisher events.Publisher, lk locker.Locker, health echo.HandlerFunc) *server {
	engine := scheduling.NewEngine(st.schedules, st.unavailability, st.appointments,
		scheduling.WithLocation(cfg.Location()))
	schedules := scheduling.NewScheduleService(st.schedules, st.unavailability, scheduling.DraftDefaults{
		SlotMinutes: cfg.DefaultSlotMinutes,
		Available:   true,
	})
	bookings := scheduling.NewBookingService(engine, st.appointments, st.tx, publisher, logger)
	reminders := scheduling.NewReminderWorker(st.appointments, publisher, lk, cfg.ReminderCron, cfg.ReminderLead, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", health)

	// API
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(engine, schedules, bookings).RegisterRoutes(apiV1)

	return &server{echo: e, schedules: schedules, reminders: reminders}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: DevAuthMiddleware is active and callers choose their own role")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]db.Check{}

	// Database, or the in-memory store in development
	var (
		st   stores
		pool *pgxpool.Pool
		mem  *scheduling.MemoryStore
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		st = postgresStores(pool)
		logger.Info().Msg("connected to database")
	} else {
		st, mem = memoryStores()
		logger.Warn().Msg("DATABASE_URL not set: using the in-memory store")
	}

	// Redis leader lock, or an in-process lock for a single instance
	var lk locker.Locker = locker.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := locker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		lk = locker.NewRedisLocker(client, logger)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info().Msg("connected to redis")
	}

	// Event publisher
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		publisher = amqpPub
		checks["amqp"] = amqpPub.Check
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing appointment events to rabbitmq")
	}
	defer publisher.Close()

	srv := newServer(cfg, logger, st, publisher, lk, db.HealthHandler(pool, checks))
	if mem != nil {
		if err := seedDemo(ctx, mem, srv.schedules); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed development data")
		}
	}

	if err := srv.reminders.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start reminder worker")
	}
	defer srv.reminders.Stop()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
