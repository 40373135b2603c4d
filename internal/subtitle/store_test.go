package subtitle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddAndCount(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "hello", StartMs: 0, DurationMs: 500, Source: SourceFastLocal})
	s.Add(Entry{Text: "world", StartMs: 500, DurationMs: 500, Source: SourceFastLocal})
	assert.Equal(t, 2, s.Count())
}

func TestStore_At_ReturnsEntryCoveringTime(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "hello", StartMs: 0, DurationMs: 500})
	s.Add(Entry{Text: "world", StartMs: 500, DurationMs: 500})

	e, ok := s.At(600)
	require.True(t, ok)
	assert.Equal(t, "world", e.Text)

	_, ok = s.At(2000)
	assert.False(t, ok)
}

func TestStore_Remove(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "a"})
	s.Add(Entry{Text: "b"})
	s.Remove(0)
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Text)
}

func TestStore_RemoveOutOfRangeIsNoop(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "a"})
	s.Remove(5)
	s.Remove(-1)
	assert.Equal(t, 1, s.Count())
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "a"})
	s.Clear()
	assert.Equal(t, 0, s.Count())
}

func TestStore_ExportSRT(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "hello", StartMs: 0, DurationMs: 1500})

	path := filepath.Join(t.TempDir(), "out.srt")
	require.NoError(t, s.ExportSRT(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "1\n")
	assert.Contains(t, content, "00:00:00,000 --> 00:00:01,500")
	assert.Contains(t, content, "hello")
}

func TestStore_ExportVTT(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "hello", StartMs: 0, DurationMs: 1500})

	path := filepath.Join(t.TempDir(), "out.vtt")
	require.NoError(t, s.ExportVTT(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, len(content) > 0 && content[:7] == "WEBVTT\n")
	assert.Contains(t, content, "00:00:00.000 --> 00:00:01.500")
	assert.Contains(t, content, "hello")
}

func TestStore_ExportSortsByStartTime(t *testing.T) {
	s := NewStore()
	s.Add(Entry{Text: "second", StartMs: 1000, DurationMs: 500})
	s.Add(Entry{Text: "first", StartMs: 0, DurationMs: 500})

	path := filepath.Join(t.TempDir(), "out.srt")
	require.NoError(t, s.ExportSRT(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.Index(content, "first") < strings.Index(content, "second"))
}
