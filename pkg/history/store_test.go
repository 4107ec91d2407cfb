package history

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestAppendAndReadPreservesOrder(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append("alice", "first"))
	require.NoError(t, store.Append("alice", "second"))
	require.NoError(t, store.Append("alice", "third"))

	lines, err := store.Read("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestReadUnknownKeyIsEmpty(t *testing.T) {
	store := newTestStore(t)

	lines, err := store.Read("nobody")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGroupKeyNamespaceIsDisjoint(t *testing.T) {
	store := newTestStore(t)

	// A user and a group with the same name must not share a log.
	require.NoError(t, store.Append("dev", "user line"))
	require.NoError(t, store.Append(GroupKey("dev"), "group line"))

	userLines, err := store.Read("dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"user line"}, userLines)

	groupLines, err := store.Read(GroupKey("dev"))
	require.NoError(t, err)
	assert.Equal(t, []string{"group line"}, groupLines)
}

func TestAppendRecordDirectMessage(t *testing.T) {
	store := newTestStore(t)

	rec := Record{
		Type:    TypeText,
		From:    "alice",
		Target:  "bob",
		Payload: "hello bob",
		SentAt:  time.Now(),
	}
	require.NoError(t, store.AppendRecord(rec))

	for _, key := range []string{"alice", "bob"} {
		lines, err := store.Read(key)
		require.NoError(t, err)
		require.Len(t, lines, 1, "log %s", key)
		assert.Equal(t, rec.Format(), lines[0])
	}

	// Never a group log for a direct message.
	groupLines, err := store.Read(GroupKey("bob"))
	require.NoError(t, err)
	assert.Empty(t, groupLines)
}

func TestAppendRecordGroupMessage(t *testing.T) {
	store := newTestStore(t)

	rec := Record{
		Type:    TypeText,
		From:    "alice",
		Target:  "dev",
		IsGroup: true,
		Payload: "hello group",
		SentAt:  time.Now(),
	}
	require.NoError(t, store.AppendRecord(rec))

	senderLines, err := store.Read("alice")
	require.NoError(t, err)
	assert.Len(t, senderLines, 1)

	groupLines, err := store.Read(GroupKey("dev"))
	require.NoError(t, err)
	assert.Len(t, groupLines, 1)

	// Group messages land in the shared group log, not member logs.
	memberLines, err := store.Read("dev")
	require.NoError(t, err)
	assert.Empty(t, memberLines)
}

func TestConcurrentAppendsKeepWholeLines(t *testing.T) {
	store := newTestStore(t)

	const writers = 16
	const perWriter = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, store.Append("shared", "0123456789abcdef"))
			}
		}()
	}
	wg.Wait()

	lines, err := store.Read("shared")
	require.NoError(t, err)
	require.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.Equal(t, "0123456789abcdef", line)
	}
}

func TestStoreBlobRoundTrip(t *testing.T) {
	store := newTestStore(t)

	data := []byte{0x01, 0x02, 0x03, 0xFF, 0x00, 0x7F}
	path, err := store.StoreBlob(data)
	require.NoError(t, err)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestStoreBlobNamesNeverCollide(t *testing.T) {
	store := newTestStore(t)

	// Stored back to back these land in the same millisecond; the
	// sequence token must keep the names distinct.
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		path, err := store.StoreBlob([]byte{byte(i)})
		require.NoError(t, err)
		require.False(t, seen[path], "duplicate blob path %s", path)
		seen[path] = true
	}
}

func TestStoreBlobEmptyPayload(t *testing.T) {
	store := newTestStore(t)

	path, err := store.StoreBlob(nil)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
