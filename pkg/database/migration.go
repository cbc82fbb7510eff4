package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// MigrationLogger adapts ectologger to migrate.Logger.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback forces a dirty database back to the previous version after a failed migration.
	AutoRollback bool
}

// MigrationService provisions the typed value tables and metadata tables.
type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.MigrationFolderPath
	if _, err := os.Stat(folder); err == nil || filepath.IsAbs(folder) {
		return folder
	}
	wd, err := os.Getwd()
	if err != nil {
		return folder
	}
	return filepath.Join(wd, folder)
}

func (ms *MigrationService) Migrate(databaseName string, driver migratedb.Driver) error {
	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.run(m)
}

func (ms *MigrationService) run(m *migrate.Migrate) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		ms.logger.WithError(err).Warn("Failed to read current migration version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.WithField("elapsed", time.Since(start).String()).Info("Database migrations finished")

	return ms.handleMigrationError(m, err, previous)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previous uint) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}
	if err == migrate.ErrNoChange {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := latestMigrationVersion(ms.resolveMigrationFolder())
		if latestErr != nil {
			return errors.Wrap(latestErr, "failed to resolve latest migration version")
		}
		ms.logger.Warnf("No migration found for version %d, forcing version %d", previous, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Error("Migration failed")

	version, dirty, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to read migration version after failure")
		return err
	}

	if ms.config.AutoRollback && dirty {
		target := int(previous)
		if target == 0 && version > 0 {
			target = int(version) - 1
		}
		ms.logger.Warnf("Database is dirty at version %d, forcing version %d", version, target)
		if forceErr := m.Force(target); forceErr != nil {
			return errors.Wrapf(forceErr, "failed to force database to version %d", target)
		}
	}

	return err
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

func latestMigrationVersion(folder string) (int, error) {
	files, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(file.Name())
		if len(matches) < 2 {
			continue
		}
		v, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, v)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", folder)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
