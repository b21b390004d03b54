package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Counter int      `json:"counter"`
	Items   []string `json:"items"`
}

func openTestTable(t *testing.T, dir string) *Table[testDoc] {
	t.Helper()
	table, err := OpenTable(dir, "test", func() testDoc { return testDoc{} })
	require.NoError(t, err)
	return table
}

func TestTableLoadsDefaultWhenMissing(t *testing.T) {
	table := openTestTable(t, t.TempDir())

	doc, err := table.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Counter)
	assert.Empty(t, doc.Items)
}

func TestTableUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	table := openTestTable(t, dir)

	err := table.Update(func(doc *testDoc) error {
		doc.Counter = 7
		doc.Items = append(doc.Items, "a", "b")
		return nil
	})
	require.NoError(t, err)

	// A second table over the same path reads the persisted snapshot.
	reopened := openTestTable(t, dir)
	doc, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, doc.Counter)
	assert.Equal(t, []string{"a", "b"}, doc.Items)
}

func TestTableUpdateErrorLeavesSnapshot(t *testing.T) {
	table := openTestTable(t, t.TempDir())

	require.NoError(t, table.Update(func(doc *testDoc) error {
		doc.Counter = 1
		return nil
	}))

	boom := errors.New("boom")
	err := table.Update(func(doc *testDoc) error {
		doc.Counter = 99
		return boom
	})
	require.ErrorIs(t, err, boom)

	doc, err := table.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Counter)
}

func TestTableOpenFailsOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenTable(dir, "test", func() testDoc { return testDoc{} })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestTableWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	table := openTestTable(t, dir)

	for i := 0; i < 5; i++ {
		require.NoError(t, table.Update(func(doc *testDoc) error {
			doc.Counter++
			return nil
		}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestTableConcurrentUpdates(t *testing.T) {
	table := openTestTable(t, t.TempDir())

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = table.Update(func(doc *testDoc) error {
				doc.Counter++
				return nil
			})
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	doc, err := table.Load()
	require.NoError(t, err)
	assert.Equal(t, 10, doc.Counter)
}
