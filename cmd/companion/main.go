package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"health-companion/internal/adherence"
	"health-companion/internal/companion"
	"health-companion/internal/config"
	"health-companion/internal/emergency"
	"health-companion/internal/entity"
	"health-companion/internal/metrics"
	"health-companion/internal/mood"
	"health-companion/internal/platform/telegram"
	"health-companion/internal/profile"
	"health-companion/internal/remote"
	"health-companion/internal/report"
	"health-companion/internal/session"
	"health-companion/internal/storage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Infrastructure
	st, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Clients
	client := remote.NewClient(cfg.RemoteTimeout, m)
	tgClient := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIURL)

	var alerter emergency.Alerter = emergency.LogAlerter{}
	if cfg.CaregiverChatID != 0 {
		alerter = emergency.NewTelegramAlerter(tgClient, cfg.CaregiverChatID)
	} else {
		log.Println("Warning: CAREGIVER_CHAT_ID is not set. SOS alerts will only be logged.")
	}
	if cfg.DoctorChatID == 0 {
		log.Println("Warning: DOCTOR_CHAT_ID is not set. Reports can be downloaded but not sent.")
	}
	if !cfg.SOSRequirePin {
		log.Println("Warning: SOS_REQUIRE_PIN is false. The emergency trigger fires without PIN confirmation.")
	}

	// 3. Services
	store := session.NewStore(client, st, session.Options{
		AuthURL: cfg.AuthURL,
		Secret:  cfg.SessionSecret,
		MaxAge:  cfg.SessionMaxAge,
	})
	svc := companion.NewService(companion.Deps{
		Session: store,
		Repos: entity.NewRepositories(entity.Endpoints{
			Advanced:      cfg.AdvancedURL,
			Doctors:       cfg.DoctorsURL,
			Grandchildren: cfg.GrandchildrenURL,
		}, client),
		Adherence: adherence.NewLog(client, cfg.AdvancedURL, m),
		Mood:      mood.NewTracker(client, cfg.ProfileURL, m),
		Profile: profile.NewService(client, store, profile.Endpoints{
			Profile:  cfg.ProfileURL,
			Advanced: cfg.AdvancedURL,
		}),
		Gate:   emergency.NewGate(store, alerter, cfg.SOSRequirePin, m),
		Report: report.NewService(tgClient, cfg.DoctorChatID, cfg.ReportFontPath),
	})

	user, err := svc.Restore(ctx)
	switch {
	case err != nil:
		log.Printf("session restore failed: %v", err)
	case user != nil:
		log.Printf("restored session for user %d", user.ID)
	default:
		log.Println("no saved session, waiting for login")
	}

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for the UI
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PATCH, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == http.MethodOptions {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		companion.RegisterRoutes(r, companion.NewHandler(svc))
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("companion listening on %s (storage: %s)", cfg.HTTPAddr, cfg.StorageBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	if err := st.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage close: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		runMigrations(cfg)
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	case config.BackendRedis:
		return storage.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	default:
		return storage.OpenSQLite(ctx, cfg.SQLitePath)
	}
}

func runMigrations(cfg config.Config) {
	m, err := migrate.New("file://"+cfg.MigrationsDir, cfg.DatabaseURL)
	if err != nil {
		log.Printf("Migration init failed: %v", err)
		return
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Printf("Migration up failed: %v", err)
		return
	}
	log.Println("Migrations applied successfully!")
}
