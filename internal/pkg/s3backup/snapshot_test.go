package s3backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/internal/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

type recordingUploader struct {
	key  string
	size int64
	err  error
}

func (u *recordingUploader) UploadFile(_ context.Context, path, key string) (int64, error) {
	if u.err != nil {
		return 0, u.err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	u.key, u.size = key, info.Size()
	return info.Size(), nil
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{}
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	assert.Equal(t, "backups/2026/02/"+"1770091506-abc.db", cfg.ObjectKey(at, "abc"))

	cfg.Prefix = "paybridge"
	assert.Equal(t, "paybridge/2026/02/1770091506-abc.db", cfg.ObjectKey(at, "abc"))
}

func TestSnapshotDatabase_CopiesRows(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.User{TelegramID: 42}).Error)

	dest := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, SnapshotDatabase(context.Background(), db, dest))

	snap, err := database.OpenSQLite(dest)
	require.NoError(t, err)
	defer database.Close(snap)

	var count int64
	require.NoError(t, snap.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSnapshotDatabase_RejectsQuotedPath(t *testing.T) {
	err := SnapshotDatabase(context.Background(), newTestDB(t), "/tmp/x'; DROP TABLE users; --")
	assert.Error(t, err)
}

func TestBackup_UploadsAndCleansUp(t *testing.T) {
	db := newTestDB(t)
	up := &recordingUploader{}
	b := NewBackuper(db, up, &Config{})
	b.tmpDir = t.TempDir()
	b.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	b.newID = func() string { return "id1" }

	key, err := b.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backups/2026/02/1770091506-id1.db", key)
	assert.Equal(t, key, up.key)
	assert.Positive(t, up.size)

	_, statErr := os.Stat(filepath.Join(b.tmpDir, "1770091506-id1.db"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestBackup_UploadError(t *testing.T) {
	b := NewBackuper(newTestDB(t), &recordingUploader{err: errors.New("denied")}, &Config{})
	b.tmpDir = t.TempDir()

	_, err := b.Backup(context.Background())
	assert.EqualError(t, err, "denied")
}
