package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"file-exchanger/internal/db"
	"file-exchanger/internal/rooms"
	"file-exchanger/internal/server"
	"file-exchanger/internal/storage"
)

func main() {
	// Fail fast on malformed settings before touching storage.
	if err := server.ValidateAllConfiguration(); err != nil {
		log.Printf("service=exchanger msg=%q err=%v", "invalid_configuration", err)
		os.Exit(1)
	}
	server.WarnOnOptionalMissingConfig()

	addr := getenvDefault("SFX_ADDR", ":8888")

	build := server.BuildInfo{
		Version: getenvDefault("SFX_VERSION", "dev"),
		Commit:  getenvDefault("SFX_COMMIT", "unknown"),
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Storage
	roomsBackend, sharedBackend, err := openBackends(startCtx)
	if err != nil {
		log.Printf("service=exchanger msg=%q err=%v", "storage_init_failed", err)
		os.Exit(1)
	}

	registry := rooms.NewRegistry(roomsBackend, roomsConfigFromEnv())
	defer registry.Close()

	n, err := registry.Load(startCtx)
	if err != nil {
		log.Printf("service=exchanger msg=%q err=%v", "rooms_load_failed", err)
		os.Exit(1)
	}
	log.Printf("service=exchanger msg=%q rooms=%d", "rooms_loaded", n)

	probes := map[string]server.Pinger{
		"rooms_storage": roomsBackend,
	}

	var shared *storage.Folder
	if envBool("SFX_FLAT_ENABLED", true) {
		shared = storage.NewFolder(sharedBackend, "")
		probes["shared_storage"] = sharedBackend
	}

	// Optional audit database
	var auditor server.Auditor
	if dsn := getenvDefault("DATABASE_URL", ""); dsn != "" {
		dbConn, err := db.OpenDB(startCtx, dsn)
		if err != nil {
			log.Printf("service=exchanger msg=%q err=%v", "db_connect_failed", err)
			os.Exit(1)
		}
		store := db.NewAuditStore(dbConn)
		defer func() { _ = store.Close() }()

		log.Printf("service=exchanger msg=%q", "running_migrations")
		if err := db.RunMigrations(dbConn); err != nil {
			log.Printf("service=exchanger msg=%q err=%v", "migration_failed", err)
			os.Exit(1)
		}
		log.Printf("service=exchanger msg=%q", "migrations_complete")

		auditor = server.NewBreakerAuditor(store, server.LogAuditor{Logger: server.DefaultLogger})
		probes["audit_db"] = store
	}

	srv := server.New(server.Config{
		Addr:           addr,
		Build:          build,
		Rooms:          registry,
		Shared:         shared,
		Probes:         probes,
		Auditor:        auditor,
		AllowedOrigins: splitList(getenvDefault("SFX_ALLOWED_ORIGINS", "*")),
		TrustedProxies: splitList(os.Getenv("SFX_TRUSTED_PROXIES")),
		MaxUploadBytes: int64(envInt("SFX_MAX_UPLOAD_BYTES", 0)),
		RateLimits:     rateLimitsFromEnv(),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=exchanger msg=%q addr=%s version=%s commit=%s flat=%t",
			"starting", addr, build.Version, build.Commit, shared != nil)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("service=exchanger msg=%q signal=%s", "shutting_down", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("service=exchanger msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		log.Printf("service=exchanger msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=exchanger msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

// openBackends returns the rooms and shared backends selected by
// SFX_STORAGE. Both MinIO backends share one client and bucket.
func openBackends(ctx context.Context) (storage.Backend, storage.Backend, error) {
	if getenvDefault("SFX_STORAGE", "local") == "minio" {
		client, err := storage.NewMinIOClient(ctx, storage.MinIOConfig{
			Endpoint:  os.Getenv("SFX_S3_ENDPOINT"),
			AccessKey: os.Getenv("SFX_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("SFX_S3_SECRET_KEY"),
			Bucket:    os.Getenv("SFX_BUCKET"),
		})
		if err != nil {
			return nil, nil, err
		}
		bucket := os.Getenv("SFX_BUCKET")
		return storage.NewMinIO(client, bucket, "rooms"), storage.NewMinIO(client, bucket, "shared"), nil
	}

	roomsLocal, err := storage.NewLocal(getenvDefault("SFX_ROOMS_DIR", "servers_data"))
	if err != nil {
		return nil, nil, err
	}
	sharedLocal, err := storage.NewLocal(getenvDefault("SFX_SHARED_DIR", "shared_files"))
	if err != nil {
		return nil, nil, err
	}
	return roomsLocal, sharedLocal, nil
}

func roomsConfigFromEnv() rooms.Config {
	cfg := rooms.DefaultConfig()
	cfg.MinPasswordLength = envInt("SFX_MIN_PASSWORD", cfg.MinPasswordLength)
	cfg.IDBytes = envInt("SFX_ROOM_ID_BYTES", cfg.IDBytes)
	cfg.BcryptCost = envInt("SFX_BCRYPT_COST", cfg.BcryptCost)
	cfg.LockoutAttempts = envInt("SFX_LOCKOUT_ATTEMPTS", cfg.LockoutAttempts)
	cfg.LockoutDuration = time.Duration(envInt("SFX_LOCKOUT_MINUTES", int(cfg.LockoutDuration/time.Minute))) * time.Minute
	return cfg
}

func rateLimitsFromEnv() server.EndpointRateLimitConfig {
	cfg := server.DefaultEndpointRateLimitConfig()
	cfg.APIRate = envInt("SFX_RATE_LIMIT_PER_MIN", cfg.APIRate)
	return cfg
}

// splitList splits a comma separated list and drops empty entries.
func splitList(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// envInt parses key as an integer. Values were validated at startup, so a
// parse failure only happens for unset keys and yields def.
func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}
