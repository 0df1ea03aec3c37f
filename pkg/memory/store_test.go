package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetOrCreateSession(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			state, err := store.GetOrCreateSession(ctx, "u1", "s1")
			require.NoError(t, err)
			assert.Equal(t, "s1", state.Session.SessionID)
			assert.Equal(t, "u1", state.Session.UserID)
			assert.Equal(t, 0, state.Session.MessageCount)
			assert.Empty(t, state.STM)
			assert.Empty(t, state.LTM)

			_, err = store.AppendSTM(ctx, "u1", "s1", RoleUser, "hello")
			require.NoError(t, err)
			require.NoError(t, store.SetMessageCount(ctx, "u1", "s1", 1))

			again, err := store.GetOrCreateSession(ctx, "u1", "s1")
			require.NoError(t, err)
			assert.Equal(t, 1, again.Session.MessageCount)
			require.Len(t, again.STM, 1)
			assert.Equal(t, "hello", again.STM[0].Content)
		})
	}
}

func TestStore_RejectsForeignSession(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			_, err := store.GetOrCreateSession(ctx, "alice", "shared")
			require.NoError(t, err)
			_, err = store.AppendSTM(ctx, "alice", "shared", RoleUser, "secret")
			require.NoError(t, err)

			_, err = store.GetOrCreateSession(ctx, "bob", "shared")
			assert.ErrorIs(t, err, ErrSessionOwnership)

			_, err = store.AppendSTM(ctx, "bob", "shared", RoleUser, "intrusion")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			_, err = store.AppendLTM(ctx, "bob", "shared", []string{"x"})
			assert.ErrorIs(t, err, ErrSessionNotFound)

			require.NoError(t, store.ClearSTM(ctx, "bob", "shared"))
			state, err := store.GetSession(ctx, "alice", "shared")
			require.NoError(t, err)
			require.Len(t, state.STM, 1, "another user's clear must not touch alice's STM")
		})
	}
}

func TestStore_STMOrderingAndClear(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)
			_, err := store.GetOrCreateSession(ctx, "u1", "s1")
			require.NoError(t, err)

			for i := 0; i < 4; i++ {
				role := RoleUser
				if i%2 == 1 {
					role = RoleAssistant
				}
				_, err := store.AppendSTM(ctx, "u1", "s1", role, fmt.Sprintf("m%d", i))
				require.NoError(t, err)
			}

			state, err := store.GetSession(ctx, "u1", "s1")
			require.NoError(t, err)
			require.Len(t, state.STM, 4)
			for i, e := range state.STM {
				assert.Equal(t, fmt.Sprintf("m%d", i), e.Content)
			}
			assert.Equal(t, RoleAssistant, state.STM[3].Role)

			require.NoError(t, store.ClearSTM(ctx, "u1", "s1"))
			state, err = store.GetSession(ctx, "u1", "s1")
			require.NoError(t, err)
			assert.Empty(t, state.STM)
		})
	}
}

func TestStore_CommitSummaryKeepsNewerSTM(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)
			_, err := store.GetOrCreateSession(ctx, "u1", "s1")
			require.NoError(t, err)

			first, err := store.AppendSTM(ctx, "u1", "s1", RoleUser, "a")
			require.NoError(t, err)
			through, err := store.AppendSTM(ctx, "u1", "s1", RoleAssistant, "b")
			require.NoError(t, err)
			_, err = store.AppendSTM(ctx, "u1", "s1", RoleUser, "c")
			require.NoError(t, err)
			require.Less(t, first.ID, through.ID)

			saved, err := store.CommitSummary(ctx, "u1", "s1", []string{"fact one", "fact two"}, through.ID)
			require.NoError(t, err)
			require.Len(t, saved, 2)

			state, err := store.GetSession(ctx, "u1", "s1")
			require.NoError(t, err)
			require.Len(t, state.STM, 1)
			assert.Equal(t, "c", state.STM[0].Content)
			require.Len(t, state.LTM, 2)
			assert.Equal(t, "fact one", state.LTM[0].MemoryText)
			assert.Equal(t, "fact two", state.LTM[1].MemoryText)
		})
	}
}

func TestStore_ListSessionsTitlesAndOrder(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			_, err := store.GetOrCreateSession(ctx, "u1", "empty")
			require.NoError(t, err)
			time.Sleep(3 * time.Millisecond)

			_, err = store.GetOrCreateSession(ctx, "u1", "ltm-only")
			require.NoError(t, err)
			_, err = store.AppendLTM(ctx, "u1", "ltm-only", []string{"User lives in Lisbon"})
			require.NoError(t, err)
			time.Sleep(3 * time.Millisecond)

			_, err = store.GetOrCreateSession(ctx, "u1", "chatty")
			require.NoError(t, err)
			_, err = store.AppendSTM(ctx, "u1", "chatty", RoleUser, "Can you help me plan a trip to the mountains this winter?")
			require.NoError(t, err)
			_, err = store.AppendSTM(ctx, "u1", "chatty", RoleAssistant, "Sure")
			require.NoError(t, err)

			_, err = store.GetOrCreateSession(ctx, "u2", "other-user")
			require.NoError(t, err)

			list, err := store.ListSessions(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 3)

			assert.Equal(t, "chatty", list[0].SessionID)
			assert.Equal(t, "Can you help me plan a trip to...", list[0].Title)
			assert.Equal(t, "ltm-only", list[1].SessionID)
			assert.Equal(t, "User lives in Lisbon", list[1].Title)
			assert.Equal(t, "empty", list[2].SessionID)
			assert.Equal(t, UntitledSession, list[2].Title)
		})
	}
}

func TestStore_GlobalContextIsolationAndLimit(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			for _, user := range []string{"alice", "bob"} {
				for s := 0; s < 2; s++ {
					sid := fmt.Sprintf("%s-%d", user, s)
					_, err := store.GetOrCreateSession(ctx, user, sid)
					require.NoError(t, err)
					_, err = store.AppendLTM(ctx, user, sid, []string{user + " fact"})
					require.NoError(t, err)
					for i := 0; i < 30; i++ {
						_, err := store.AppendSTM(ctx, user, sid, RoleUser, fmt.Sprintf("%s msg %d", user, i))
						require.NoError(t, err)
					}
				}
			}

			global, err := store.GetGlobalContext(ctx, "alice", 100)
			require.NoError(t, err)
			assert.Len(t, global.LTM, 2)
			require.Len(t, global.STM, MaxGlobalSTM)
			for _, e := range global.LTM {
				assert.True(t, strings.HasPrefix(e.SessionID, "alice-"), "leaked ltm %+v", e)
			}
			for _, e := range global.STM {
				assert.True(t, strings.HasPrefix(e.SessionID, "alice-"), "leaked stm %+v", e)
			}
			// Most recent entries, chronological.
			assert.Equal(t, "alice msg 29", global.STM[len(global.STM)-1].Content)
			assert.Equal(t, "alice-1", global.STM[len(global.STM)-1].SessionID)
			for i := 1; i < len(global.STM); i++ {
				assert.Less(t, global.STM[i-1].ID, global.STM[i].ID)
			}

			small, err := store.GetGlobalContext(ctx, "alice", 5)
			require.NoError(t, err)
			assert.Len(t, small.STM, 5)
		})
	}
}

func TestStore_ListPendingSummaries(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			for sid, n := range map[string]int{"big": 12, "small": 3} {
				_, err := store.GetOrCreateSession(ctx, "u1", sid)
				require.NoError(t, err)
				for i := 0; i < n; i++ {
					_, err := store.AppendSTM(ctx, "u1", sid, RoleUser, "x")
					require.NoError(t, err)
				}
			}

			refs, err := store.ListPendingSummaries(ctx, 10, 10)
			require.NoError(t, err)
			require.Len(t, refs, 1)
			assert.Equal(t, SessionRef{SessionID: "big", UserID: "u1", STMCount: 12}, refs[0])
		})
	}
}

func TestStore_GetSessionNotFound(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			_, err := f.open(t).GetSession(context.Background(), "u1", "missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state", "memory.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.GetOrCreateSession(ctx, "u1", "s1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := store.AppendSTM(ctx, "u1", "s1", RoleUser, "hello"); err != nil {
		t.Fatalf("append stm: %v", err)
	}
	if _, err := store.AppendLTM(ctx, "u1", "s1", []string{"likes tea"}); err != nil {
		t.Fatalf("append ltm: %v", err)
	}
	if err := store.AddMetric(ctx, "memory.summarize.facts", 2, map[string]string{"session_id": "s1"}); err != nil {
		t.Fatalf("add metric: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store2.Close()

	state, err := store2.GetSession(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(state.STM) != 1 || state.STM[0].Content != "hello" {
		t.Fatalf("unexpected stm after reopen: %#v", state.STM)
	}
	if len(state.LTM) != 1 || state.LTM[0].MemoryText != "likes tea" {
		t.Fatalf("unexpected ltm after reopen: %#v", state.LTM)
	}
	total, err := store2.MetricTotal(ctx, "memory.summarize.facts")
	if err != nil {
		t.Fatalf("metric total: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected metric total 2, got %v", total)
	}
}

func TestMemStore_FailOnWrapsStoreUnavailable(t *testing.T) {
	store := NewMemStore()
	store.FailOn("AppendSTM", errors.New("disk full"))

	_, err := store.GetOrCreateSession(context.Background(), "u1", "s1")
	require.NoError(t, err)
	_, err = store.AppendSTM(context.Background(), "u1", "s1", RoleUser, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "disk full")

	store.FailOn("AppendSTM", nil)
	_, err = store.AppendSTM(context.Background(), "u1", "s1", RoleUser, "hi")
	assert.NoError(t, err)
}
