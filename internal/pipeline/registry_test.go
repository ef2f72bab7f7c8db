package pipeline

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherline/cipherline/internal/sem"
	"github.com/cipherline/cipherline/internal/shmem"
)

func newTestMutex(t *testing.T) *sem.Sem {
	t.Helper()
	name := "/cl_test_" + strings.ReplaceAll(t.Name(), "/", "_") + fmt.Sprintf("_%d", os.Getpid())
	s, err := sem.Create(name, 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = sem.Unlink(name)
	})
	return s
}

func Test_RegisterTracksCounters(t *testing.T) {
	h := &shmem.Header{}
	mu := newTestMutex(t)

	require.NoError(t, Register(h, mu, RoleEmitter, 101))
	require.NoError(t, Register(h, mu, RoleEmitter, 102))
	require.NoError(t, Register(h, mu, RoleReceiver, 201))

	assert.Equal(t, int32(2), h.ActiveEmitters)
	assert.Equal(t, int32(2), h.TotalEmitters)
	assert.Equal(t, int32(1), h.ActiveReceivers)
	assert.Equal(t, int32(1), h.TotalReceivers)
	assert.Contains(t, h.EmitterPIDs[:2], int32(101))
	assert.Contains(t, h.EmitterPIDs[:2], int32(102))
}

func Test_DeregisterWritesStatsRow(t *testing.T) {
	h := &shmem.Header{}
	mu := newTestMutex(t)

	require.NoError(t, Register(h, mu, RoleEmitter, 101))

	start := time.Unix(100, 0)
	end := time.Unix(105, 0)
	Deregister(h, mu, RoleEmitter, 101, 42, start, end)

	assert.Equal(t, int32(0), h.ActiveEmitters)
	assert.Equal(t, int32(1), h.TotalEmitters)
	assert.NotContains(t, h.EmitterPIDs[:], int32(101))

	require.Equal(t, int32(1), h.EmitterStatCount)
	row := h.EmitterStats[0]
	assert.Equal(t, int32(101), row.PID)
	assert.Equal(t, int64(42), row.Bytes)
	assert.Equal(t, start.UnixNano(), row.StartTime)
	assert.Equal(t, end.UnixNano(), row.EndTime)
}

func Test_RegisterFullTable(t *testing.T) {
	h := &shmem.Header{}
	mu := newTestMutex(t)

	for i := 0; i < shmem.MaxPeers; i++ {
		require.NoError(t, Register(h, mu, RoleReceiver, int32(1000+i)))
	}
	assert.ErrorIs(t, Register(h, mu, RoleReceiver, 9999), ErrRegistryFull)
	assert.Equal(t, int32(shmem.MaxPeers), h.ActiveReceivers)

	// Emitters have their own table and are unaffected.
	require.NoError(t, Register(h, mu, RoleEmitter, 42))
}

func Test_DeregisterFreesTableEntry(t *testing.T) {
	h := &shmem.Header{}
	mu := newTestMutex(t)

	for i := 0; i < shmem.MaxPeers; i++ {
		require.NoError(t, Register(h, mu, RoleEmitter, int32(1000+i)))
	}
	Deregister(h, mu, RoleEmitter, 1000, 0, time.Unix(0, 1), time.Unix(0, 2))

	assert.NoError(t, Register(h, mu, RoleEmitter, 7777))
}
