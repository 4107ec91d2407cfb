package server

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func testSession(username string) *Session {
	return newSession(username, "127.0.0.1", &safeWriter{w: io.Discard}, nopCloser{})
}

func TestRegisterClaimsUsername(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("alice", testSession("alice")))

	err := reg.Register("alice", testSession("alice"))
	assert.ErrorIs(t, err, ErrUserTaken)

	sess, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Username)
}

func TestUnregisterFreesUsername(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("alice", testSession("alice")))
	reg.Unregister("alice")

	_, ok := reg.Lookup("alice")
	assert.False(t, ok)
	assert.NoError(t, reg.Register("alice", testSession("alice")))
}

func TestConcurrentRegisterHasOneWinner(t *testing.T) {
	reg := NewRegistry()

	const contenders = 32
	var wg sync.WaitGroup
	var winners sync.Map

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if reg.Register("alice", testSession("alice")) == nil {
				winners.Store(id, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	winners.Range(func(any, any) bool { count++; return true })
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, reg.SessionCount())
}

func TestSessionsSnapshot(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("user%d", i)
		require.NoError(t, reg.Register(name, testSession(name)))
	}

	sessions := reg.Sessions()
	assert.Len(t, sessions, 5)

	names := make(map[string]bool)
	for _, sess := range sessions {
		names[sess.Username] = true
	}
	for i := 0; i < 5; i++ {
		assert.True(t, names[fmt.Sprintf("user%d", i)])
	}
}

func TestMembersOfUnknownGroupIsEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.MembersOf("nope"))
}

func TestCreateGroupIsIdempotent(t *testing.T) {
	reg := NewRegistry()

	reg.CreateGroup("dev")
	reg.AddMember("dev", "alice")
	// Recreating an existing group must not wipe its members.
	reg.CreateGroup("dev")

	assert.Equal(t, []string{"alice"}, reg.MembersOf("dev"))
}

func TestAddMemberCreatesGroupAndDedupes(t *testing.T) {
	reg := NewRegistry()

	reg.AddMember("dev", "alice")
	reg.AddMember("dev", "alice")
	reg.AddMember("dev", "bob")

	members := reg.MembersOf("dev")
	assert.Len(t, members, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)
}

func TestRemoveEverywhere(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("alice", testSession("alice")))
	reg.AddMember("dev", "alice")
	reg.AddMember("dev", "bob")
	reg.AddMember("ops", "alice")

	reg.RemoveEverywhere("alice")

	_, ok := reg.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob"}, reg.MembersOf("dev"))
	assert.Empty(t, reg.MembersOf("ops"))
}
