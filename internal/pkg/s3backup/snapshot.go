package s3backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Uploader stores a local file remotely.
type Uploader interface {
	UploadFile(ctx context.Context, localFilePath, objectKey string) (int64, error)
}

// SnapshotDatabase writes a consistent copy of a SQLite database to dest.
// VACUUM INTO runs as a read transaction, so webhook writers keep going.
func SnapshotDatabase(ctx context.Context, db *gorm.DB, dest string) error {
	if db.Dialector.Name() != "sqlite" {
		return fmt.Errorf("snapshot needs sqlite, got %s", db.Dialector.Name())
	}
	if strings.ContainsRune(dest, '\'') {
		return errors.New("snapshot path must not contain quotes")
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return db.WithContext(ctx).Exec(fmt.Sprintf("VACUUM INTO '%s'", dest)).Error
}

// Backuper uploads database snapshots.
type Backuper struct {
	db       *gorm.DB
	uploader Uploader
	config   *Config
	tmpDir   string
	now      func() time.Time
	newID    func() string
}

func NewBackuper(db *gorm.DB, uploader Uploader, cfg *Config) *Backuper {
	return &Backuper{
		db:       db,
		uploader: uploader,
		config:   cfg,
		tmpDir:   os.TempDir(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Backup snapshots the database and uploads it. It returns the object key.
func (b *Backuper) Backup(ctx context.Context) (string, error) {
	at := b.now()
	key := b.config.ObjectKey(at, b.newID())
	local := filepath.Join(b.tmpDir, filepath.Base(key))
	defer os.Remove(local)

	started := time.Now()
	if err := SnapshotDatabase(ctx, b.db, local); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	size, err := b.uploader.UploadFile(ctx, local, key)
	if err != nil {
		return "", err
	}
	log.Infof("[S3Backup] Snapshot %s uploaded (%d bytes in %s)", key, size, time.Since(started).Round(time.Millisecond))
	return key, nil
}
