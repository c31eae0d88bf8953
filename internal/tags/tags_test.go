package tags

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), NewMemoryBackend(), testLogger(t))
	require.NoError(t, err)
	return s
}

func TestAddTagRejectsDuplicates(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	added, err := s.AddTag(ctx, "a", "vip")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddTag(ctx, "a", "vip")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []string{"vip"}, s.Tags("a"))
}

func TestAddTagTrimsAndIgnoresBlank(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	added, err := s.AddTag(ctx, "a", "   ")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, s.Tags("a"))
	assert.Equal(t, uint64(0), s.Version())

	_, err = s.AddTag(ctx, "a", "  refund ")
	require.NoError(t, err)
	added, err = s.AddTag(ctx, "a", "refund")
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, s.Has("a", "refund"))
	assert.Equal(t, uint64(1), s.Version())
}

func TestInsertionOrderAndRemove(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for _, tag := range []string{"vip", "refund", "churn"} {
		_, err := s.AddTag(ctx, "a", tag)
		require.NoError(t, err)
	}
	_, err := s.AddTag(ctx, "b", "billing")
	require.NoError(t, err)

	assert.Equal(t, []string{"vip", "refund", "churn"}, s.Tags("a"))

	removed, err := s.RemoveTag(ctx, "a", "refund")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"vip", "churn"}, s.Tags("a"))

	removed, err = s.RemoveTag(ctx, "a", "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{"billing", "churn", "vip"}, s.AllUniqueTags())
	assert.Empty(t, s.Tags("unknown"))
}

func TestRemoveTagMatchesExactly(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.AddTag(ctx, "a", "vip")
	require.NoError(t, err)

	removed, err := s.RemoveTag(ctx, "a", "vip ")
	require.NoError(t, err)
	assert.False(t, removed)
	removed, err = s.RemoveTag(ctx, "a", "VIP")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"vip"}, s.Tags("a"))
	assert.Equal(t, uint64(1), s.Version())
}

type failingBackend struct {
	*MemoryBackend
	fail bool
}

func (f *failingBackend) Save(ctx context.Context, id string, tags []string) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Save(ctx, id, tags)
}

func TestFailedPersistenceLeavesMemoryUnchanged(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	s, err := Open(context.Background(), backend, testLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.AddTag(ctx, "a", "vip")
	require.NoError(t, err)

	backend.fail = true
	_, err = s.AddTag(ctx, "a", "refund")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"vip"}, s.Tags("a"))

	_, err = s.RemoveTag(ctx, "a", "vip")
	require.Error(t, err)
	assert.True(t, s.Has("a", "vip"))
	assert.Equal(t, uint64(1), s.Version())
}

func TestSQLiteBackendSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.db")
	ctx := context.Background()

	backend, err := NewSQLiteBackend(DSNForFile(path))
	require.NoError(t, err)
	s, err := Open(ctx, backend, testLogger(t))
	require.NoError(t, err)

	for _, tag := range []string{"vip", "refund", "churn"} {
		_, err := s.AddTag(ctx, "a", tag)
		require.NoError(t, err)
	}
	_, err = s.RemoveTag(ctx, "a", "refund")
	require.NoError(t, err)
	_, err = s.AddTag(ctx, "b", "billing")
	require.NoError(t, err)
	_, err = s.RemoveTag(ctx, "b", "billing")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	backend, err = NewSQLiteBackend(DSNForFile(path))
	require.NoError(t, err)
	reopened, err := Open(ctx, backend, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	assert.Equal(t, []string{"vip", "churn"}, reopened.Tags("a"))
	assert.Empty(t, reopened.Tags("b"))
	assert.Equal(t, map[string][]string{"a": {"vip", "churn"}}, reopened.All())
}

func getTestRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis not reachable: %v", err)
	}
	return client
}

func TestRedisBackendSurvivesReopen(t *testing.T) {
	client := getTestRedisClient(t)
	ctx := context.Background()
	prefix := "test:inbox:tags:" + time.Now().Format("150405.000000") + ":"

	s, err := Open(ctx, NewRedisBackend(client, prefix), testLogger(t))
	require.NoError(t, err)

	_, err = s.AddTag(ctx, "a", "vip")
	require.NoError(t, err)
	_, err = s.AddTag(ctx, "a", "refund")
	require.NoError(t, err)
	_, err = s.AddTag(ctx, "b", "churn")
	require.NoError(t, err)
	_, err = s.RemoveTag(ctx, "b", "churn")
	require.NoError(t, err)

	reopened, err := Open(ctx, NewRedisBackend(client, prefix), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"vip", "refund"}, reopened.Tags("a"))
	assert.Empty(t, reopened.Tags("b"))

	_, err = reopened.RemoveTag(ctx, "a", "vip")
	require.NoError(t, err)
	_, err = reopened.RemoveTag(ctx, "a", "refund")
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}
