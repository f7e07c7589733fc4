package speech

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yok-tottii/ezvoice/internal/audio/mock"
	"github.com/yok-tottii/ezvoice/internal/background"
	"github.com/yok-tottii/ezvoice/internal/playback"
	"github.com/yok-tottii/ezvoice/internal/speechcache"
)

type fixture struct {
	svc    *Service
	store  *speechcache.BadgerStore
	exec   *background.Executor
	opener *mock.OutputOpener
	done   chan string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, speechcache.Config{InMemory: true})
}

func newFixtureWith(t *testing.T, config speechcache.Config) *fixture {
	t.Helper()

	store, err := speechcache.Open(config, nil)
	require.NoError(t, err)

	exec := background.New(background.DefaultConfig())
	codec := speechcache.NewCodec(store, exec)

	f := &fixture{
		store:  store,
		exec:   exec,
		opener: &mock.OutputOpener{},
		done:   make(chan string, 16),
	}
	queue := playback.New(f.opener.Open, playback.DefaultConfig(),
		playback.WithListener(playback.ListenerFuncs{
			Done: func(id string) { f.done <- id },
		}))

	f.svc = New(store, codec, queue, exec)

	t.Cleanup(func() {
		queue.Close()
		exec.Close()
		_ = store.Close()
	})
	return f
}

func (f *fixture) waitDone(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.done:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for playback")
		return ""
	}
}

func pcm(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestCacheThenPlay(t *testing.T) {
	f := newFixture(t)
	in := pcm(4000)

	_, err := f.svc.Cache("greeting", in)
	require.NoError(t, err)

	id, ok, err := f.svc.PlayCached("greeting")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "utterance id should be a UUID")

	assert.Equal(t, id, f.waitDone(t))

	opened := f.opener.Opened()
	require.Len(t, opened, 1)
	assert.True(t, bytes.Equal(in[playback.HeaderSize:], opened[0].Bytes()))
}

func TestPlayCachedMiss(t *testing.T) {
	f := newFixture(t)

	id, ok, err := f.svc.PlayCached("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, 0, f.svc.Pending())
}

func TestPlayCachedCorruptRemovesRow(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Put("broken", []byte("not a gzip stream"))
	require.NoError(t, err)

	_, ok, err := f.svc.PlayCached("broken")
	require.NoError(t, err)
	assert.False(t, ok)

	f.exec.Close()

	_, found, err := f.store.Get("broken")
	require.NoError(t, err)
	assert.False(t, found, "corrupted row should be deleted")
}

// overwriteRow replaces the stored record of rowID in the badger database at
// dir with raw bytes
func overwriteRow(t *testing.T, dir string, rowID int64, raw []byte) {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	key := make([]byte, 0, 12)
	key = append(key, "row/"...)
	key = binary.BigEndian.AppendUint64(key, uint64(rowID))
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	}))
}

func TestPlayCachedUndecodableRecordRemovesRow(t *testing.T) {
	dir := t.TempDir()

	seed, err := speechcache.Open(speechcache.Config{Dir: dir}, nil)
	require.NoError(t, err)
	rowID, err := seed.Put("garbled", []byte("placeholder"))
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	overwriteRow(t, dir, rowID, []byte{0xc1, 0xff, 0x00})

	f := newFixtureWith(t, speechcache.Config{Dir: dir})
	n, err := f.store.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	id, ok, err := f.svc.PlayCached("garbled")
	require.NoError(t, err, "an undecodable record is a miss, not an error")
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, 0, f.svc.Pending())

	f.exec.Close()

	n, err = f.store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "undecodable row should be deleted")

	_, found, err := f.store.Get("garbled")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPlayCachedAsync(t *testing.T) {
	f := newFixture(t)
	in := pcm(3000)

	_, err := f.svc.Cache("later", in)
	require.NoError(t, err)

	require.NoError(t, f.svc.PlayCachedAsync("later"))
	require.NoError(t, f.svc.PlayCachedAsync("unknown"))

	f.waitDone(t)
	opened := f.opener.Opened()
	require.Len(t, opened, 1)
	assert.True(t, bytes.Equal(in[playback.HeaderSize:], opened[0].Bytes()))

	f.exec.Close()
	assert.ErrorIs(t, f.svc.PlayCachedAsync("later"), background.ErrClosed)
}

func TestCacheRejectsEmpty(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cache("empty", nil)
	assert.Error(t, err)
}

func TestCacheAsync(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.CacheAsync("later", pcm(1000)))
	f.exec.Close()

	entry, found, err := f.store.Get("later")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, entry.Data)

	assert.ErrorIs(t, f.svc.CacheAsync("too-late", pcm(10)), background.ErrClosed)
}

func TestPlayAndStop(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Play(pcm(500))
	require.NoError(t, err)
	assert.Equal(t, first, f.waitDone(t))

	f.svc.Stop(true)
	assert.Equal(t, 0, f.svc.Pending())

	second, err := f.svc.Play(pcm(500))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, f.waitDone(t))
}
