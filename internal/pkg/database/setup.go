package database

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"

	DefaultSQLitePath = "vstrike_crm.db"
)

// DB is the process wide handle set by SetupDatabase.
var DB *gorm.DB

// GetDB returns the handle opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// Driver returns the configured driver name.
func Driver() string {
	switch strings.ToLower(strings.TrimSpace(env.GetEnv("DB_DRIVER", DriverSQLite))) {
	case DriverMySQL:
		return DriverMySQL
	default:
		return DriverSQLite
	}
}

func SetupDatabase() {
	var err error
	for i := 0; i < maxRetries; i++ {
		if Driver() == DriverMySQL {
			DB, err = OpenMySQL(mysqlDSN())
		} else {
			DB, err = OpenSQLite(env.GetEnv("DB_PATH", DefaultSQLitePath))
		}
		if err == nil {
			if err = AutoMigrate(DB); err == nil {
				return
			}
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retry in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Transaction{},
		&models.User{},
		&models.VIPGrant{},
		&models.WebhookEvent{},
		&models.GatewayDailyStat{},
		&models.Setting{},
	)
}

func mysqlDSN() string {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// OpenMySQL opens the production database.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,   // data source name
		DefaultStringSize:         256,   // default size for string fields
		DisableDatetimePrecision:  true,  // disable datetime precision, which not supported before MySQL 5.6
		DontSupportRenameIndex:    true,  // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
		DontSupportRenameColumn:   true,  // `change` when rename column, rename column not supported before MySQL 8, MariaDB
		SkipInitializeWithVersion: false, // auto configure based on currently MySQL version
	}), gormConfig(log.New(os.Stdout, "\r\n", log.LstdFlags)))
}

// gormConfig logs slow queries and errors. Lookups that miss are normal on
// the intake path and stay quiet.
func gormConfig(w logger.Writer) *gorm.Config {
	return &gorm.Config{Logger: logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})}
}

// SQLiteDSN builds the mattn/go-sqlite3 DSN for path. WAL keeps readers
// unblocked while one writer holds the lock; _txlock=immediate takes the
// write lock at BEGIN so concurrent writers queue on busy_timeout instead of
// failing on lock upgrade.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
}

// OpenSQLite opens the embedded database file at path.
func OpenSQLite(path string) (*gorm.DB, error) {
	return openSQLite(path, log.New(os.Stdout, "\r\n", log.LstdFlags))
}

func openSQLite(path string, w logger.Writer) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), gormConfig(w))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
