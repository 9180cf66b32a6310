package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/songmopx/planeveryday.org/internal/platform/logging"
)

func TestNamespace(t *testing.T) {
	require.Equal(t, "guest", Guest().String())
	require.Equal(t, "user_abc", Account("abc").String())
	require.True(t, Guest().IsGuest())
	require.False(t, Account("abc").IsGuest())

	ns, err := ParseNamespace("user_abc")
	require.NoError(t, err)
	require.Equal(t, Account("abc"), ns)

	_, err = ParseNamespace("user_")
	require.Error(t, err)
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := s.Load(ctx, Guest(), KeyDailyTasks)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Save(ctx, Guest(), KeyDailyTasks, []byte(`[{"id":"g"}]`)))
	require.NoError(t, s.Save(ctx, Account("u1"), KeyDailyTasks, []byte(`[{"id":"a"}]`)))
	require.NoError(t, s.Save(ctx, Account("u1"), KeyDailyTasks, []byte(`[{"id":"b"}]`)))

	body, found, err := s.Load(ctx, Guest(), KeyDailyTasks)
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `[{"id":"g"}]`, string(body))

	body, found, err = s.Load(ctx, Account("u1"), KeyDailyTasks)
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `[{"id":"b"}]`, string(body))

	bulk, ok := s.(BulkLoader)
	require.True(t, ok)
	all, err := bulk.LoadAll(ctx, Account("u1"))
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)

	namespaces, err := s.Namespaces(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Namespace{Guest(), Account("u1")}, namespaces)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Guest(), KeyTimerStart, []byte(`"2024-01-01T00:00:00Z"`)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	body, found, err := s.Load(context.Background(), Guest(), KeyTimerStart)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `"2024-01-01T00:00:00Z"`, string(body))
}

// keyStore is a Store without bulk loading, with an optional failure.
type keyStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	fail  error
	saves int
}

func newKeyStore() *keyStore { return &keyStore{docs: make(map[string][]byte)} }

func (k *keyStore) Load(_ context.Context, ns Namespace, key Key) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return nil, false, k.fail
	}
	body, ok := k.docs[ns.String()+"/"+string(key)]
	return body, ok, nil
}

func (k *keyStore) Save(_ context.Context, ns Namespace, key Key, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return k.fail
	}
	k.saves++
	k.docs[ns.String()+"/"+string(key)] = data
	return nil
}

func TestGateway_RemoteFirstForAccounts(t *testing.T) {
	ctx := context.Background()
	local, remote := NewMemoryStore(), newKeyStore()
	g := NewGateway(local, remote, 0, logging.Discard())

	require.NoError(t, local.Save(ctx, Account("u1"), KeyDailyTasks, []byte(`"local"`)))
	require.NoError(t, remote.Save(ctx, Account("u1"), KeyDailyTasks, []byte(`"remote"`)))
	require.NoError(t, remote.Save(ctx, Account("u1"), KeyStatistics, []byte(`{}`)))

	res := g.LoadNamespace(ctx, Account("u1"))
	require.Equal(t, SourceRemote, res.Source)
	require.Empty(t, res.Warnings)
	require.Equal(t, `"remote"`, string(res.Docs[KeyDailyTasks]))
	require.Len(t, res.Docs, 2)
}

func TestGateway_FallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	local, remote := NewMemoryStore(), newKeyStore()
	remote.fail = errors.New("unavailable")
	g := NewGateway(local, remote, 0, logging.Discard())
	require.NoError(t, local.Save(ctx, Account("u1"), KeyDailyTasks, []byte(`"local"`)))

	res := g.LoadNamespace(ctx, Account("u1"))
	require.Equal(t, SourceLocal, res.Source)
	require.Len(t, res.Warnings, 1)

	var perr *PersistenceError
	require.ErrorAs(t, res.Warnings[0], &perr)
	require.True(t, perr.Remote)
	require.Equal(t, `"local"`, string(res.Docs[KeyDailyTasks]))

	require.NoError(t, g.SaveLocal(ctx, Account("u1"), KeyStatistics, []byte(`{}`)))
	err := g.SaveRemote(ctx, Account("u1"), KeyStatistics, []byte(`{}`))
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.Remote)
	require.Equal(t, KeyStatistics, perr.Key)
}

func TestGateway_GuestNeverTouchesRemote(t *testing.T) {
	ctx := context.Background()
	local, remote := NewMemoryStore(), newKeyStore()
	g := NewGateway(local, remote, 0, logging.Discard())

	require.NoError(t, g.SaveLocal(ctx, Guest(), KeyDailyTasks, []byte(`[]`)))
	require.NoError(t, g.SaveRemote(ctx, Guest(), KeyDailyTasks, []byte(`[]`)))
	require.Equal(t, 0, remote.saves)

	res := g.LoadNamespace(ctx, Guest())
	require.Equal(t, SourceLocal, res.Source)
	require.Contains(t, res.Docs, KeyDailyTasks)
}

func TestGateway_LocalFailureYieldsEmptyNamespace(t *testing.T) {
	local := newKeyStore()
	local.fail = errors.New("disk full")
	g := NewGateway(local, nil, 0, logging.Discard())

	res := g.LoadNamespace(context.Background(), Guest())
	require.Equal(t, SourceNone, res.Source)
	require.Empty(t, res.Docs)
	require.Len(t, res.Warnings, 1)

	err := g.SaveLocal(context.Background(), Guest(), KeyDailyTasks, []byte(`[]`))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.False(t, perr.Remote)
	require.Equal(t, KeyDailyTasks, perr.Key)
}
