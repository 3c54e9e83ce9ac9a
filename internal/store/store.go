// Package store persists users and maps. Postgres is the primary backend;
// when it is unreachable the store falls back to SQLite so the service can
// still come up.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a record does not exist or is owned by
// another user.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEmail is returned when registering an email that is already
// taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Manager owns the database connection and serves all queries.
type Manager struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	Logger zerolog.Logger

	// UsingSqlite reports that the Postgres connection failed and the
	// store is running on the SQLite fallback.
	UsingSqlite bool
	// SqliteFilePath overrides the fallback location. Empty means shared
	// in-memory, which is what tests use.
	SqliteFilePath string
}

// Connect opens Postgres, falling back to SQLite when the connection cannot
// be established or does not survive a ping.
func (m *Manager) Connect() error {
	db, err := m.openPostgres()
	if err != nil {
		m.Logger.Error().Err(err).Msg("failed to connect to postgres, using sqlite")
		m.UsingSqlite = true
		db, err = m.openSqlite()
		if err != nil {
			return fmt.Errorf("failed to connect to sqlite: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		if m.UsingSqlite {
			return fmt.Errorf("sqlite ping failed: %w", err)
		}
		m.Logger.Error().Err(err).Msg("postgres ping failed, using sqlite")
		m.UsingSqlite = true
		db, err = m.openSqlite()
		if err != nil {
			return fmt.Errorf("failed to connect to sqlite: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
	}

	m.DB = db
	m.SqlDB = sqlDB
	return nil
}

func (m *Manager) openPostgres() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), m.gormConfig())
}

func (m *Manager) openSqlite() (*gorm.DB, error) {
	path := m.SqliteFilePath
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(path), m.gormConfig())
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
	} {
		db.Exec(pragma)
	}
	return db, nil
}

func (m *Manager) gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	if err := m.DB.AutoMigrate(DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}

// CreateUser inserts a new account.
func (m *Manager) CreateUser(u *User) error {
	var count int64
	if err := m.DB.Model(&User{}).Where("email = ?", u.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEmail
	}
	return m.DB.Create(u).Error
}

// UserByEmail looks an account up for login.
func (m *Manager) UserByEmail(email string) (User, error) {
	var u User
	err := m.DB.Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	return u, err
}

// UserByID resolves the account behind an authenticated request.
func (m *Manager) UserByID(id uint) (User, error) {
	var u User
	err := m.DB.First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	return u, err
}

// UserByGoogleSub finds the account linked to a Google identity.
func (m *Manager) UserByGoogleSub(sub string) (User, error) {
	var u User
	err := m.DB.Where("google_sub = ?", sub).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	return u, err
}

// SaveUser persists changes to an existing account.
func (m *Manager) SaveUser(u *User) error {
	return m.DB.Save(u).Error
}

// CreateMap inserts a map owned by userID.
func (m *Manager) CreateMap(rec *Map) error {
	return m.DB.Create(rec).Error
}

// MapsByUser lists the caller's maps, most recently updated first. The
// GeoJSON payload is left out; listings only need metadata.
func (m *Manager) MapsByUser(userID uint) ([]Map, error) {
	var maps []Map
	err := m.DB.
		Select("id", "user_id", "name", "description", "style", "is_draft", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&maps).Error
	return maps, err
}

// MapByID fetches one map. A map owned by someone else is indistinguishable
// from a missing one.
func (m *Manager) MapByID(userID, id uint) (Map, error) {
	var rec Map
	err := m.DB.Where("user_id = ?", userID).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Map{}, ErrNotFound
	}
	return rec, err
}

// UpdateMap applies the given column values to an owned map and returns the
// updated record. Columns not present in fields keep their stored values.
func (m *Manager) UpdateMap(userID, id uint, fields map[string]any) (Map, error) {
	if len(fields) > 0 {
		res := m.DB.Model(&Map{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(fields)
		if res.Error != nil {
			return Map{}, res.Error
		}
		if res.RowsAffected == 0 {
			return Map{}, ErrNotFound
		}
	}
	return m.MapByID(userID, id)
}

// DeleteMap removes an owned map.
func (m *Manager) DeleteMap(userID, id uint) error {
	res := m.DB.Where("user_id = ?", userID).Delete(&Map{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
