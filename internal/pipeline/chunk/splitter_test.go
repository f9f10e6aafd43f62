package chunk_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusd/internal/pipeline/chunk"
)

func TestWhitespaceTokenizerCount(t *testing.T) {
	tok := chunk.WhitespaceTokenizer{}
	assert.Equal(t, 3, tok.Count("the quick fox"))
	assert.Equal(t, 0, tok.Count("   \n\t"))
	assert.Equal(t, 3, tok.Count("hello, world")) // "hello", ",", "world"
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	s := chunk.Splitter{ChunkSize: 50, Overlap: 10}
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n  "))
}

func TestSplitShortTextYieldsOneChunk(t *testing.T) {
	s := chunk.Splitter{ChunkSize: 512, Overlap: 50}
	segs := s.Split("The quick brown fox jumps over the lazy dog.")
	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].Index)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog.", segs[0].Text)
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("word ", 20) + "END. " + strings.Repeat("more ", 20)
	s := chunk.Splitter{ChunkSize: 22, Overlap: 0}
	segs := s.Split(text)
	require.NotEmpty(t, segs)
	assert.True(t, strings.HasSuffix(segs[0].Text, "END."), "expected first chunk to end at sentence boundary, got %q", segs[0].Text)
}

func TestSplitProducesContiguousIndices(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon ", 50)
	s := chunk.Splitter{ChunkSize: 30, Overlap: 5}
	segs := s.Split(text)
	require.True(t, len(segs) > 1)
	for i, seg := range segs {
		assert.Equal(t, i, seg.Index)
		assert.NotEmpty(t, seg.Text)
	}
}

func TestSplitShortSentencesEachBecomeTheirOwnChunk(t *testing.T) {
	s := chunk.Splitter{ChunkSize: 10, Overlap: 2}
	segs := s.Split("one. two. three.")
	require.Len(t, segs, 3)
	assert.Equal(t, "one.", segs[0].Text)
	assert.Equal(t, "two.", segs[1].Text)
	assert.Equal(t, "three.", segs[2].Text)
}

func TestSplitWithOverlapRepeatsTrailingContent(t *testing.T) {
	text := strings.Repeat("one two three four five six seven eight nine ten ", 20)
	noOverlap := chunk.Splitter{ChunkSize: 20, Overlap: 0}.Split(text)
	withOverlap := chunk.Splitter{ChunkSize: 20, Overlap: 8}.Split(text)
	require.True(t, len(withOverlap) >= len(noOverlap))
}
