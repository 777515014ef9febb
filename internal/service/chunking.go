package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls document segmentation for embeddings.
type ChunkConfig struct {
	// Window is the maximum segment length in runes.
	Window int
	// Overlap is the number of trailing runes each segment repeats from its
	// predecessor, preserving semantic continuity across boundaries.
	Overlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Window:  500,
		Overlap: 80,
	}
}

// ChunkText splits text into ordered, overlapping segments. Segmentation is
// deterministic: the same input always yields the same chunks. Cuts prefer a
// paragraph break, then a sentence end, then any whitespace inside the last
// half of the window, and fall back to a hard cut at the window edge when no
// boundary exists.
func ChunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.Window <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Window {
		cfg.Overlap = 0
	}

	runes := []rune(clean)
	if len(runes) <= cfg.Window {
		return []string{clean}
	}

	chunks := make([]string, 0, len(runes)/(cfg.Window-cfg.Overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + cfg.Window
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = cutPoint(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// cutPoint picks the best cut position in (floor, end], where floor is the
// midpoint of the window so every chunk still makes progress.
func cutPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2

	// Paragraph break: cut after the blank line.
	for i := end; i > floor+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}

	// Sentence end: terminator followed by whitespace.
	for i := end; i > floor+1; i-- {
		if isSentenceEnd(runes[i-2]) && unicode.IsSpace(runes[i-1]) {
			return i - 1
		}
	}

	// Any whitespace.
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}

	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
