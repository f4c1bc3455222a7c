package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smalltalk/internal/config"
	"github.com/smalltalk/internal/handler"
	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/media"
	"github.com/smalltalk/internal/push"
	"github.com/smalltalk/internal/repository"
	"github.com/smalltalk/internal/service"
	"github.com/smalltalk/internal/startup"
	"github.com/smalltalk/internal/storage"
	"github.com/smalltalk/internal/storage/memory"
	"github.com/smalltalk/internal/ws"
	"github.com/smalltalk/migrations"
)

const connectWait = 60 * time.Second

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and an in-process update bus")
	flag.Parse()

	logger.Info("starting API service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if *dev {
		cfg.StoreDriver = config.StoreDriverPostgres
		cfg.BusDriver = config.BusDriverMemory
		if cfg.S3.Endpoint == "" && cfg.LocalMedia.Dir == "" {
			cfg.LocalMedia.Dir = filepath.Join(".", ".media")
		}
	}

	if err := run(cfg, *dev, *migrate); err != nil {
		logger.Errorf("api: %v", err)
		// Даём асинхронному логгеру дописать.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
}

func run(cfg *config.Config, dev, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	store, err := openStore(ctx, cfg, migrateOnly)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	defer store.Close()

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	mediaStore, err := openMedia(cfg)
	if err != nil {
		return err
	}

	pushClient := push.NewClient(cfg.PushServiceURL)
	if pushClient.Enabled() && cfg.PushVAPIDPublicKey == "" {
		if keys, err := push.EnsureVAPIDKeys(""); err == nil {
			cfg.PushVAPIDPublicKey = keys.PublicKey
		} else {
			logger.Errorf("VAPID: %v (клиенты не получат публичный ключ)", err)
		}
	}

	chats := service.NewChatService(store, bus, pushClient)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	hub := ws.NewHub(bus, store, cfg.MaxWSConnections)
	if err := hub.Start(hubCtx); err != nil {
		return fmt.Errorf("hub: %w", err)
	}

	r := handler.NewRouter(handler.Deps{
		Config: cfg,
		Chats:  chats,
		Hub:    hub,
		Media:  mediaStore,
		Push:   pushClient,
	})

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		r = withSPA(r, webDist)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (store=%s bus=%s)", cfg.ServerAddr, cfg.StoreDriver, cfg.BusDriver)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	<-hub.Done()
	logger.Info("hub stopped")
	srvWg.Wait()
	return serveErr
}

// openStore открывает хранилище документов выбранного драйвера. При migrateOnly
// применяет миграции Postgres и возвращает nil.
func openStore(ctx context.Context, cfg *config.Config, migrateOnly bool) (storage.DocumentStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		if migrateOnly {
			logger.Info("mongo: миграции не требуются, индексы создаются при подключении")
		}
		st, err := startup.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, connectWait)
		if err != nil {
			return nil, err
		}
		if migrateOnly {
			return nil, st.Close()
		}
		return st, nil
	case config.StoreDriverMemory:
		logger.Info("store: in-memory, данные не переживут перезапуск")
		if migrateOnly {
			return nil, nil
		}
		return memory.New(), nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2
	pool, err := startup.ConnectDB(ctx, poolCfg, connectWait)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected, migrations applied")
	if migrateOnly {
		pool.Close()
		return nil, nil
	}
	return &pooledStore{Store: repository.NewStore(pool), pool: pool}, nil
}

// pooledStore закрывает пул вместе с хранилищем.
type pooledStore struct {
	*repository.Store
	pool *pgxpool.Pool
}

func (s *pooledStore) Close() error {
	s.pool.Close()
	return nil
}

func openBus(ctx context.Context, cfg *config.Config) (storage.UpdateBus, error) {
	if cfg.BusDriver == config.BusDriverMemory {
		logger.Info("bus: in-memory, обновления видит только этот экземпляр")
		return memory.NewBus(), nil
	}
	return startup.ConnectRedis(ctx, cfg.RedisURL, connectWait)
}

func openMedia(cfg *config.Config) (media.Store, error) {
	if cfg.S3.Endpoint == "" {
		if cfg.LocalMedia.Dir != "" {
			logger.Infof("media: файлы хранятся локально в %s", cfg.LocalMedia.Dir)
			return media.NewDisk(cfg.LocalMedia.Dir, cfg.LocalMedia.BaseURL, cfg.LocalMedia.Secret, cfg.MediaURLExpiry())
		}
		logger.Info("media: S3_ENDPOINT и MEDIA_DIR не заданы, ссылки на файлы не выдаются")
		return media.Noop{}, nil
	}
	return media.New(media.Options{
		Endpoint:  cfg.S3.Endpoint,
		UseSSL:    cfg.S3.UseSSL,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		PublicURL: cfg.S3.PublicURL,
		URLExpiry: cfg.MediaURLExpiry(),
	})
}

// runMigrations применяет встроенные SQL-файлы по порядку имён. Миграции идемпотентны.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	files, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := fs.ReadFile(migrations.Files, f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", f, err)
		}
	}
	logger.Infof("migrations applied: %d", len(files))
	return nil
}

// withSPA отдаёт собранный веб-клиент для всех путей, которые не обслуживает API.
func withSPA(api http.Handler, dir string) http.Handler {
	root := http.Dir(dir)
	fileServer := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/ws" || strings.HasPrefix(r.URL.Path, "/api/") {
			api.ServeHTTP(w, r)
			return
		}
		p := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if p == "" {
			p = "index.html"
		}
		if f, err := root.Open(p); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	})
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "smalltalk"
		password = "smalltalk"
		database = "smalltalk"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
