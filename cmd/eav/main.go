package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/congraphcms/eav-sub001/config"
	"github.com/congraphcms/eav-sub001/pkg/database"
	"github.com/congraphcms/eav-sub001/pkg/engine"
	"github.com/congraphcms/eav-sub001/pkg/events"
	"github.com/congraphcms/eav-sub001/pkg/kafka"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/startup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "eav",
		Short:         "Entity-Attribute-Value engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// boot loads config, builds the logger and starts the database with its
// migrations. Extra dependencies are started after them.
func boot(ctx context.Context, extra func(*application, *startup.Startup)) (*application, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, sync, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	app := &application{cfg: cfg, logger: logger}
	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	deps.AddDependency(&startup.Dependency{Name: "database", OnStart: app.openDatabase, OnStop: app.closeDatabase})
	deps.AddDependency(&startup.Dependency{Name: "migrations", Requires: []string{"database"}, OnStart: app.migrate})
	if extra != nil {
		extra(app, deps)
	}

	if err := deps.Start(ctx); err != nil {
		sync()
		return nil, nil, err
	}
	stop := func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Stop(shutdown); err != nil {
			logger.WithError(err).Error("failed to stop dependencies")
		}
		sync()
	}
	return app, stop, nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build(zap.Fields(zap.String("app", cfg.AppName)))
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

type application struct {
	cfg      *config.Config
	logger   ectologger.Logger
	db       *sqlx.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func (a *application) openDatabase(ctx context.Context) error {
	db, err := sqlx.Open(a.cfg.DatabaseDriver, a.cfg.DataSourceName())
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if a.cfg.DatabaseDriver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
		db.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
		db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)
	}
	a.db = db
	return nil
}

func (a *application) closeDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *application) migrate(context.Context) error {
	var (
		driver migratedb.Driver
		err    error
	)
	switch a.cfg.DatabaseDriver {
	case "sqlite3":
		driver, err = migratesqlite.WithInstance(a.db.DB, &migratesqlite.Config{})
	default:
		driver, err = migratepg.WithInstance(a.db.DB, &migratepg.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	service := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(a.cfg.DatabaseDriver, driver)
}

func (a *application) openRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr(),
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	a.redis = client
	return nil
}

func (a *application) closeRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *application) openKafka(context.Context) error {
	producerConfig := kafka.DefaultProducerConfig()
	producerConfig.Brokers = a.cfg.KafkaBrokers
	producerConfig.Topic = a.cfg.KafkaOutputTopic
	producerConfig.BatchSize = a.cfg.KafkaBatchSize
	producerConfig.BatchTimeout = time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond
	producerConfig.RequiredAcks = a.cfg.KafkaRequiredAcks
	producerConfig.Compression = a.cfg.KafkaCompression

	producer, err := kafka.NewProducer(producerConfig, a.logger)
	if err != nil {
		return err
	}
	a.producer = producer
	return nil
}

func (a *application) closeKafka(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *application) engine() (*engine.Engine, error) {
	opts := engine.Options{
		DB:     database.NewDatabaseInstance(a.db, a.logger),
		Logger: a.logger,
		Config: engine.Config{
			DatetimeFormat:   a.cfg.DatetimeFormat,
			DefaultPageLimit: a.cfg.DefaultPageLimit,
			MaxPageLimit:     a.cfg.MaxPageLimit,
		},
	}
	if isolation, ok := isolationLevel(a.cfg.DatabaseTxIsolation); ok {
		opts.TxOptions = &sql.TxOptions{Isolation: isolation}
	}
	if a.redis != nil {
		opts.Stamp = metadata.NewRedisVersionStamp(a.redis, a.cfg.MetadataVersionKey)
	}
	if a.producer != nil {
		opts.Publisher = events.NewSinkPublisher(a.producer, a.logger)
	}
	return engine.New(opts)
}

func isolationLevel(name string) (sql.IsolationLevel, bool) {
	switch name {
	case "read_committed":
		return sql.LevelReadCommitted, true
	case "repeatable_read":
		return sql.LevelRepeatableRead, true
	case "serializable":
		return sql.LevelSerializable, true
	default:
		return sql.LevelDefault, false
	}
}
