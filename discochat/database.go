package discochat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// dbModels are auto-migrated on startup
var dbModels = []any{
	&RuntimeConfig{},
	&ChatCompletionLog{},
	&CommandLog{},
}

// ModelUnixTime is an embeddable model with Unix timestamps (milliseconds)
// for creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// DBI wraps database writes. Every operation gets a timeout if the
// context doesn't already have a deadline, and writes are serialized
// unless concurrent writes are enabled (sqlite only allows one writer).
type DBI interface {
	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
}

type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase returns a DBI for the given connection. If
// enableConcurrentWrites is false, writes are serialized.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// begin acquires the write lock (if writes are serialized) and applies
// the default operation timeout. The returned func must be called
// when the operation completes.
func (d *database) begin(ctx context.Context) (context.Context, func()) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
	}
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
	}
	return ctx, func() {
		cancel()
		if !d.enableConcurrentWrites {
			d.mu.Unlock()
		}
	}
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	ctx context.Context,
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	ctx, done := d.begin(ctx)
	defer done()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// CreateDB opens the database and migrates it. It's used by the 'init'
// command and in tests, with a WARN level logger.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		defaultLogWriter,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	slog.New(handler).InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, newGORMLogger(handler, DefaultDatabaseSlowThreshold))
	if err != nil {
		return nil, err
	}
	if err = migrateDB(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

// openDB opens and configures the database for the bot, and migrates it
func openDB(ctx context.Context, config *Config, logger *slog.Logger) (*gorm.DB, error) {
	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	db, err := getDB(
		config.DatabaseType,
		config.Database,
		newGORMLogger(handler, config.DatabaseSlowThreshold),
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.DatabaseType == dbTypeSQLite {
		sqlDB, e := db.DB()
		if e != nil {
			return nil, fmt.Errorf("error getting database connection: %w", e)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	logger.DebugContext(ctx, "migrating database")
	if err = migrateDB(ctx, db); err != nil {
		logger.ErrorContext(ctx, "error migrating database", tint.Err(err))
		return nil, err
	}
	logger.DebugContext(ctx, "finished migrating database")
	return db, nil
}

func migrateDB(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if err := txn.Migrator().AutoMigrate(dbModels...); err != nil {
		txn.Rollback()
		return fmt.Errorf("error migrating database: %w", err)
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
