package impl

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/corpusvault/corpusvault/models"
)

var paragraphSplit = regexp.MustCompile(`\n{2,}`)

// ChunkText splits text into overlapping paragraph-aware chunks. Paragraphs
// are joined until the chunk size is reached; each emitted chunk seeds the
// next with its last `overlap` characters. Oversized chunks (more than 1.5x
// the target) are split at a sentence boundary near the target, falling back
// to a word boundary, then a hard cut.
func ChunkText(text string, chunkSize, overlap int) []models.ChunkRecord {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var paragraphs []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var chunks []models.ChunkRecord
	var current string
	currentStart := 0

	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		chunks = append(chunks, models.ChunkRecord{
			Content:    content,
			ChunkIndex: len(chunks),
			StartChar:  currentStart,
			EndChar:    currentStart + len(content),
		})
	}

	for _, p := range paragraphs {
		if len(current)+len(p) > chunkSize && len(current) > 0 {
			emitted := strings.TrimSpace(current)
			emit(emitted)
			tail := overlapTail(emitted, overlap)
			currentStart += len(emitted) - len(tail)
			current = tail + "\n\n" + p
		} else if current == "" {
			current = p
		} else {
			current += "\n\n" + p
		}

		for len(current) > chunkSize*3/2 {
			splitAt := findSplitPoint(current, chunkSize)
			prefix := current[:splitAt]
			emit(prefix)
			tail := overlapTail(strings.TrimSpace(prefix), overlap)
			currentStart += len(prefix) - len(tail)
			current = tail + current[splitAt:]
		}
	}

	emit(current)
	return chunks
}

// findSplitPoint returns a byte offset to split an oversized chunk at:
// the sentence terminator nearest the target within +-100 chars, else the
// last space in the 80%-100% window, else a hard cut at the target.
func findSplitPoint(s string, target int) int {
	lo := target - 100
	if lo < 1 {
		lo = 1
	}
	hi := target + 100
	if hi > len(s)-1 {
		hi = len(s) - 1
	}

	best := -1
	bestDist := hi - lo + 1
	for i := lo; i <= hi; i++ {
		c := s[i-1]
		if (c == '.' || c == '!' || c == '?') && isSpace(s[i]) {
			dist := i - target
			if dist < 0 {
				dist = -dist
			}
			if dist < bestDist {
				best = i
				bestDist = dist
			}
		}
	}
	if best > 0 {
		return best
	}

	lo = target * 8 / 10
	if lo < 1 {
		lo = 1
	}
	hi = target
	if hi > len(s) {
		hi = len(s)
	}
	for i := hi - 1; i >= lo; i-- {
		if isSpace(s[i]) {
			return i
		}
	}

	cut := target
	if cut > len(s) {
		cut = len(s)
	}
	// Never split inside a multi-byte rune.
	for cut > 0 && cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// overlapTail returns the last n bytes of s, aligned to a rune boundary.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		if n <= 0 {
			return ""
		}
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
