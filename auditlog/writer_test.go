package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	UserQuery string `json:"user_query"`
	Response  string `json:"response"`
}

func readLines(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriterAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rag_logs.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"user_query":"old","response":"kept"}`+"\n"), 0o644))

	w := NewWriter(path, nil, DefaultConfig())
	require.NoError(t, w.Start())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Record(record{UserQuery: "q <1>", Response: "r & s"}))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Stop(time.Second))

	lines := readLines(t, path)
	require.Len(t, lines, 21)
	assert.Equal(t, "old", lines[0].UserQuery)
	assert.Equal(t, "q <1>", lines[20].UserQuery)
	assert.Equal(t, 20, w.Stats().Written)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "r & s")
}

func TestWriterLifecycle(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "a", "b.jsonl"), nil, Config{BufferSize: 1})

	assert.ErrorIs(t, w.Record(record{}), ErrNotStarted)
	assert.ErrorIs(t, w.Stop(time.Second), ErrNotStarted)

	require.NoError(t, w.Start())
	assert.Error(t, w.Start())
	require.NoError(t, w.Stop(time.Second))
	assert.ErrorIs(t, w.Record(record{}), ErrNotStarted)
}

func TestWriterStartFailsOnBadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	w := NewWriter(filepath.Join(blocker, "log.jsonl"), nil, DefaultConfig())
	assert.Error(t, w.Start())
}
