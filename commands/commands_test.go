package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/config"
	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.DataDirEnv, "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigureLogger(t *testing.T) {
	log := logrus.New()

	require.NoError(t, configureLogger(log, "debug", "json"))
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	require.NoError(t, configureLogger(log, "warn", "TEXT"))
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	assert.Error(t, configureLogger(log, "loud", "text"))
	assert.Error(t, configureLogger(log, "info", "xml"))
}

func TestFilesCommandListsStoredRecords(t *testing.T) {
	dir := t.TempDir()

	store, _, err := storage.Open(dir)
	require.NoError(t, err)
	clientID := uuid.New()
	require.NoError(t, store.CreateOrUpdateClient(models.Client{ID: clientID, Name: "alice"}))
	require.NoError(t, store.CreateFileRecord(models.FileRecord{
		ClientID:   clientID,
		Filename:   "notes.txt",
		StoredPath: dir + "/files/notes.txt",
		Filesize:   16,
		Checksum:   3648003736,
	}))
	require.NoError(t, store.MarkVerified(clientID, "notes.txt"))
	require.NoError(t, store.Close())

	out, err := runRoot(t, "--data-dir", dir, "--log-level", "error", "files")
	require.NoError(t, err)
	assert.Contains(t, out, "CLIENT")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "3648003736")

	out, err = runRoot(t, "--data-dir", dir, "files", "--unverified")
	require.NoError(t, err)
	assert.NotContains(t, out, "notes.txt")
}

func TestEventsCommandListsSecurityEvents(t *testing.T) {
	dir := t.TempDir()

	store, _, err := storage.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.RecordSecurityEvent(storage.EventConnectionRateLimited, uuid.Nil, storage.SecuritySeverityWarning, map[string]any{
		"remote_ip": "10.0.0.9",
	}))
	require.NoError(t, store.Close())

	out, err := runRoot(t, "--data-dir", dir, "events", "--severity", "warning")
	require.NoError(t, err)
	assert.Contains(t, out, "connection_rate_limited")
	assert.Contains(t, out, "10.0.0.9")

	_, err = runRoot(t, "--data-dir", dir, "events", "--severity", "loud")
	assert.Error(t, err)
}

func TestClientsCommandListsRegisteredClients(t *testing.T) {
	dir := t.TempDir()

	store, _, err := storage.Open(dir)
	require.NoError(t, err)
	aliceID, bobID := uuid.New(), uuid.New()
	aliceKey := []byte("alice public key")
	require.NoError(t, store.CreateOrUpdateClient(models.Client{ID: aliceID, Name: "alice", PublicKey: aliceKey}))
	require.NoError(t, store.CreateOrUpdateClient(models.Client{ID: bobID, Name: "bob"}))
	require.NoError(t, store.Close())

	out, err := runRoot(t, "--data-dir", dir, "clients")
	require.NoError(t, err)
	assert.Contains(t, out, "LAST SEEN")
	assert.Contains(t, out, aliceID.String())
	assert.Contains(t, out, bobID.String())
	assert.Contains(t, out, appcrypto.KeyFingerprint(aliceKey))
	assert.Less(t, strings.Index(out, "alice"), strings.Index(out, "bob"))

	out, err = runRoot(t, "--data-dir", dir, "clients", "--id", bobID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "bob")
	assert.NotContains(t, out, "alice")

	_, err = runRoot(t, "--data-dir", dir, "clients", "--id", uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = runRoot(t, "--data-dir", dir, "clients", "--id", "not-a-uuid")
	assert.Error(t, err)
}

func TestBackupCommandValidatesConfig(t *testing.T) {
	dir := t.TempDir()

	_, err := runRoot(t, "--data-dir", dir, "backup", "--server", "127.0.0.1:1", "--username", "alice", dir+"/missing.bin")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing.bin"), err.Error())
}

func TestRootRejectsBadLogFormat(t *testing.T) {
	_, err := runRoot(t, "--data-dir", t.TempDir(), "--log-format", "xml", "files")
	assert.Error(t, err)
}
