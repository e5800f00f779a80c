package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_Empty(t *testing.T) {
	assert.Nil(t, ChunkText("", 1000, 200))
	assert.Nil(t, ChunkText("   \n\n  ", 1000, 200))
}

func TestChunkText_SingleParagraph(t *testing.T) {
	chunks := ChunkText("hello world", 1000, 200)

	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 0, chunks[0].StartChar)
}

func TestChunkText_ThreeParagraphs(t *testing.T) {
	p1 := strings.Repeat("alpha bravo ", 16) + "alpha one."
	p2 := strings.Repeat("charlie delta ", 13) + "charlie two."
	p3 := strings.Repeat("echo foxtrot ", 14) + "echo three."
	require.Greater(t, len(p1), 150)

	text := p1 + "\n\n" + p2 + "\n\n" + p3
	chunks := ChunkText(text, 150, 20)

	require.GreaterOrEqual(t, len(chunks), 3)
	assert.LessOrEqual(t, len(chunks), 4)
	assert.Contains(t, chunks[0].Content, "alpha")
}

func TestChunkText_DenseIndices(t *testing.T) {
	text := strings.Repeat("Some sentence here. ", 200)
	chunks := ChunkText(text, 300, 50)

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.NotEmpty(t, c.Content)
	}
}

func TestChunkText_ChunkCountBound(t *testing.T) {
	text := strings.Repeat("Lorem ipsum dolor sit amet. ", 100)
	chunkSize, overlap := 200, 40
	chunks := ChunkText(text, chunkSize, overlap)

	bound := len(text)/(chunkSize-overlap) + 2
	assert.LessOrEqual(t, len(chunks), bound)
}

func TestChunkText_CoversOriginal(t *testing.T) {
	paragraphs := []string{
		"The quick brown fox jumps over the lazy dog.",
		"Pack my box with five dozen liquor jugs and keep going until done.",
		"Sphinx of black quartz, judge my vow while the rest of us wait.",
	}
	text := strings.Join(paragraphs, "\n\n")
	chunks := ChunkText(text, 60, 10)

	// Every word of the input appears in some chunk.
	var all strings.Builder
	for _, c := range chunks {
		all.WriteString(c.Content)
		all.WriteString(" ")
	}
	joined := all.String()
	for _, word := range strings.Fields(text) {
		assert.Contains(t, joined, word)
	}
}

func TestChunkText_OversizedParagraphSplits(t *testing.T) {
	// One giant paragraph with sentence boundaries.
	text := strings.Repeat("This is a fairly long sentence that keeps going. ", 40)
	chunks := ChunkText(text, 200, 30)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 200*3/2+50)
	}
}

func TestChunkText_StartCharMonotonic(t *testing.T) {
	text := strings.Repeat("One two three four five six seven. ", 60)
	chunks := ChunkText(text, 250, 40)

	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartChar, chunks[i-1].StartChar)
	}
	for _, c := range chunks {
		assert.Equal(t, c.StartChar+len(c.Content), c.EndChar)
	}
}

func TestOverlapTail(t *testing.T) {
	assert.Equal(t, "", overlapTail("abcdef", 0))
	assert.Equal(t, "def", overlapTail("abcdef", 3))
	assert.Equal(t, "abcdef", overlapTail("abcdef", 10))
}

func TestFindSplitPoint_PrefersSentenceBoundary(t *testing.T) {
	prefix := strings.Repeat("x", 95)
	s := prefix + ". " + strings.Repeat("y", 200)
	at := findSplitPoint(s, 100)

	assert.Equal(t, 96, at)
}

func TestFindSplitPoint_FallsBackToSpace(t *testing.T) {
	s := strings.Repeat("x", 90) + " " + strings.Repeat("y", 300)
	at := findSplitPoint(s, 100)

	assert.Equal(t, 90, at)
}

func TestFindSplitPoint_HardCut(t *testing.T) {
	s := strings.Repeat("x", 400)
	at := findSplitPoint(s, 100)

	assert.Equal(t, 100, at)
}
