package streamrepl

import (
	"bytes"
	"testing"

	"seekstream/pkg/repl"
	"seekstream/pkg/sstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepl(t *testing.T) (*repl.REPL, *sstream.Stream, *bytes.Buffer, *repl.REPLConfig) {
	t.Helper()
	s, err := sstream.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var out bytes.Buffer
	return StreamRepl(s), s, &out, &repl.REPLConfig{Writer: &out}
}

func TestStreamRepl_WriteReadSeek(t *testing.T) {
	r, s, out, cfg := newTestRepl(t)

	require.NoError(t, r.Exec("w hello world", cfg))
	assert.Equal(t, "Wrote 11 bytes\n", out.String())
	out.Reset()

	require.NoError(t, r.Exec("r 5", cfg))
	assert.Equal(t, "Read 5 bytes: \"hello\"\n", out.String())
	out.Reset()

	require.NoError(t, r.Exec("seek -2 cur", cfg))
	assert.Equal(t, "Cursor at 3\n", out.String())
	out.Reset()

	require.NoError(t, r.Exec("r 4 clean", cfg))
	assert.Equal(t, "Read 4 bytes: \"lo w\"\n", out.String())
	assert.Equal(t, sstream.Stat{Capacity: 1024, Used: 4, Fresh: 4, Free: 1020}, s.Stat())
	out.Reset()

	require.NoError(t, r.Exec("stat", cfg))
	assert.Equal(t, "Cap\tUsed\tStale\tFresh\tFree\tCursor\n1024\t4\t0\t4\t1020\t0\n", out.String())
}

func TestStreamRepl_ZeroSkipClean(t *testing.T) {
	r, s, _, cfg := newTestRepl(t)

	require.NoError(t, r.Exec("z 16", cfg))
	require.NoError(t, r.Exec("skip 10", cfg))
	assert.Equal(t, uint32(10), s.Stat().Cursor)
	require.NoError(t, r.Exec("clean", cfg))
	assert.Equal(t, sstream.Stat{Capacity: 1024, Used: 6, Fresh: 6, Free: 1018}, s.Stat())
	require.NoError(t, r.Exec("skip 6 clean", cfg))
	assert.Equal(t, uint32(0), s.Stat().Used)
}

func TestStreamRepl_ReadZeroCleanKeepsStale(t *testing.T) {
	r, s, _, cfg := newTestRepl(t)
	require.NoError(t, r.Exec("w abcdef", cfg))
	require.NoError(t, r.Exec("r 4", cfg))
	before := s.Stat()

	require.NoError(t, r.Exec("r 0 clean", cfg))
	assert.Equal(t, before, s.Stat())
	assert.Equal(t, uint32(4), s.Stat().Stale)
}

func TestStreamRepl_Errors(t *testing.T) {
	r, s, _, cfg := newTestRepl(t)
	require.NoError(t, r.Exec("w abc", cfg))

	assert.Equal(t, sstream.ErrNoData, r.Exec("r 4", cfg))
	assert.Equal(t, sstream.ErrNoData, r.Exec("skip 4", cfg))
	assert.Equal(t, sstream.ErrBadOffset, r.Exec("seek 4", cfg))
	assert.Equal(t, sstream.ErrBadOffset, r.Exec("seek -4 end", cfg))
	assert.Equal(t, sstream.ErrNoSpace, r.Exec("z 1022", cfg))

	assert.Error(t, r.Exec("r", cfg))
	assert.Error(t, r.Exec("r x", cfg))
	assert.Error(t, r.Exec("r 1 now", cfg))
	assert.Error(t, r.Exec("seek 1 here", cfg))
	assert.Error(t, r.Exec("seek", cfg))
	assert.Error(t, r.Exec("w", cfg))
	assert.Error(t, r.Exec("stat now", cfg))

	assert.Equal(t, uint32(3), s.Stat().Used)
}

func TestStreamRepl_Dump(t *testing.T) {
	r, _, out, cfg := newTestRepl(t)

	require.NoError(t, r.Exec("dump", cfg))
	assert.Equal(t, "(empty)\n", out.String())
	out.Reset()

	require.NoError(t, r.Exec("w AB", cfg))
	out.Reset()
	require.NoError(t, r.Exec("dump", cfg))
	assert.Contains(t, out.String(), "41 42")
}
