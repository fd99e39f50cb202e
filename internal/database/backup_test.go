package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/config"
)

func TestPerformBackup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "source.db")
	backupDir := filepath.Join(tmpDir, "backups")

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.SetKV(context.Background(), "marker", "backed-up"))
	require.NoError(t, db.Close())

	logger := zerolog.Nop()
	svc := NewBackupService(dbPath, config.BackupConfig{
		Enabled:     true,
		StoragePath: backupDir,
	}, &logger)

	require.NoError(t, svc.PerformBackup())

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), backupPrefix))

	// The snapshot is a readable database with the data intact.
	restored, err := NewDB(filepath.Join(backupDir, entries[0].Name()))
	require.NoError(t, err)
	defer restored.Close()
	got, err := restored.GetKV(context.Background(), "marker")
	require.NoError(t, err)
	assert.Equal(t, "backed-up", got)
}

func TestCleanupOldBackups(t *testing.T) {
	tmpDir := t.TempDir()

	oldFile := filepath.Join(tmpDir, backupPrefix+"old.db")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	freshFile := filepath.Join(tmpDir, backupPrefix+"fresh.db")
	require.NoError(t, os.WriteFile(freshFile, []byte("x"), 0o644))

	// Unrelated files are never touched.
	otherFile := filepath.Join(tmpDir, "notes.txt")
	require.NoError(t, os.WriteFile(otherFile, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(otherFile, past, past))

	logger := zerolog.Nop()
	svc := NewBackupService("", config.BackupConfig{
		RetentionDays: 14,
		StoragePath:   tmpDir,
	}, &logger)
	svc.CleanupOldBackups()

	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, freshFile)
	assert.FileExists(t, otherFile)
}
