package ingestion

import "strings"

// Chunk splits text into windows of at most size runes, each starting
// size-overlap runes after the previous one. Windows are trimmed and empty
// ones dropped. The split never stalls: if the next start would not advance,
// chunking stops.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			break
		}
		start = next
	}
	return chunks
}
