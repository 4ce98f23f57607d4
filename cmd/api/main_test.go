package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	db "github.com/markdave123-py/chatbase/internal/core/database"
	"github.com/markdave123-py/chatbase/internal/models"
)

const memoryConfig = "storage:\n  driver: memory\n  object:\n    driver: memory\n"

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(memoryConfig), 0o600))
	return path
}

// useStore makes maintenance commands run against store.
func useStore(t *testing.T, store *db.MemoryClient) {
	t.Helper()
	prev := openStore
	openStore = func(context.Context, config.StorageConfig) (core.DbClient, error) {
		return store, nil
	}
	t.Cleanup(func() { openStore = prev })
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	root := rootCMD()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	_, err := root.ExecuteC()
	return err
}

func seededStore(t *testing.T) *db.MemoryClient {
	t.Helper()
	store := db.NewMemoryClient()
	now := time.Now().UTC()
	lastMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	store.SetQuota(models.QuotaCounters{OwnerID: "o1", PlanID: "free", MessagesThisMonth: 30, LastResetAt: now})
	store.SetQuota(models.QuotaCounters{OwnerID: "o2", PlanID: "free", MessagesThisMonth: 12, LastResetAt: now})
	store.SetQuota(models.QuotaCounters{OwnerID: "stale", PlanID: "free", MessagesThisMonth: 9, LastResetAt: lastMonth})
	return store
}

func messages(t *testing.T, store *db.MemoryClient, owner string) int {
	t.Helper()
	q, err := store.GetQuota(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, q)
	return q.MessagesThisMonth
}

func TestQuotaResetOwner(t *testing.T) {
	store := seededStore(t)
	useStore(t, store)

	require.NoError(t, run(t, "quota", "reset", "--owner", "o1", "-c", writeConfig(t)))
	assert.Zero(t, messages(t, store, "o1"))
	assert.Equal(t, 12, messages(t, store, "o2"))
}

func TestQuotaResetAll(t *testing.T) {
	store := seededStore(t)
	useStore(t, store)

	require.NoError(t, run(t, "quota", "reset", "--all", "--config", writeConfig(t)))
	assert.Zero(t, messages(t, store, "stale"))
	assert.Equal(t, 30, messages(t, store, "o1"))
}

func TestQuotaResetNeedsExactlyOneTarget(t *testing.T) {
	useStore(t, seededStore(t))
	cfg := writeConfig(t)

	err := run(t, "quota", "reset", "-c", cfg)
	assert.ErrorContains(t, err, "exactly one")

	err = run(t, "quota", "reset", "--owner", "o1", "--all", "-c", cfg)
	assert.ErrorContains(t, err, "exactly one")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	err := run(t, "migrate", "--direction", "up", "-c", writeConfig(t))
	assert.ErrorContains(t, err, "storage.driver=postgres")
}

func TestRootRegistersCommands(t *testing.T) {
	root := rootCMD()
	for _, name := range []string{"serve", "migrate", "quota"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("port"))
}
