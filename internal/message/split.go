package message

import (
	"strings"
)

// MaxMessageLength is MAX_MESSAGE_LENGTH from spec §4.7.1: the largest
// chunk size a single persisted message may carry, measured in grapheme
// clusters (see graphemeClusters) so a combining-mark sequence is never
// split mid-cluster.
const MaxMessageLength = 1000

// splitMessage breaks text into chunks of at most MaxMessageLength
// grapheme clusters, preferring to break at a paragraph boundary, then a
// sentence boundary, then a word boundary, then falling back to a raw
// grapheme-cluster boundary (spec §4.7.1 step 3: "paragraph > sentence >
// word > character"). Concatenating the returned chunks reproduces text
// exactly.
func splitMessage(text string) []string {
	clusters := graphemeClusters(text)
	if len(clusters) <= MaxMessageLength {
		return []string{text}
	}

	var chunks []string
	for len(clusters) > 0 {
		take := breakPoint(clusters)
		chunks = append(chunks, strings.Join(clusters[:take], ""))
		clusters = clusters[take:]
	}
	return chunks
}

// breakPoint picks how many leading clusters of the slice form the next
// chunk, at most MaxMessageLength, preferring the rightmost paragraph
// break within budget, then sentence, then word, then the raw budget. A
// remainder that already fits is taken whole.
func breakPoint(clusters []string) int {
	if len(clusters) <= MaxMessageLength {
		return len(clusters)
	}
	limit := MaxMessageLength

	if at := lastBreakWithin(clusters, limit, isParagraphBreak); at > 0 {
		return at
	}
	if at := lastBreakWithin(clusters, limit, isSentenceBreak); at > 0 {
		return at
	}
	if at := lastBreakWithin(clusters, limit, isWordBreak); at > 0 {
		return at
	}
	return limit
}

// lastBreakWithin scans clusters[0:limit] from the end and returns the
// number of clusters up to and including the last one for which isBreak
// reports true, or 0 if none qualifies.
func lastBreakWithin(clusters []string, limit int, isBreak func(string) bool) int {
	for i := limit - 1; i > 0; i-- {
		if isBreak(clusters[i]) {
			return i + 1
		}
	}
	return 0
}

func isParagraphBreak(cluster string) bool {
	return strings.Contains(cluster, "\n")
}

func isSentenceBreak(cluster string) bool {
	switch cluster {
	case ".", "!", "?":
		return true
	default:
		return false
	}
}

func isWordBreak(cluster string) bool {
	r := []rune(cluster)
	if len(r) == 0 {
		return false
	}
	switch r[0] {
	case ' ', '\t':
		return true
	default:
		return false
	}
}

// graphemeClusters splits text into user-perceived characters. It walks
// the runes of text as given (no normalization, so the clusters join back
// to text byte for byte) and groups each base rune with any following
// non-spacing combining marks, which is sufficient grapheme-safety for
// the scripts this fabric is specified against without pulling in a full
// Unicode text-segmentation package the corpus doesn't otherwise use.
func graphemeClusters(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var clusters []string
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i == len(runes) || !isCombiningMark(runes[i]) {
			clusters = append(clusters, string(runes[start:i]))
			start = i
		}
	}
	return clusters
}

// isCombiningMark reports whether r is a Unicode combining mark that must
// stay attached to the preceding base rune.
func isCombiningMark(r rune) bool {
	return (r >= 0x0300 && r <= 0x036F) || // Combining Diacritical Marks
		(r >= 0x1AB0 && r <= 0x1AFF) || // Combining Diacritical Marks Extended
		(r >= 0x1DC0 && r <= 0x1DFF) || // Combining Diacritical Marks Supplement
		(r >= 0x20D0 && r <= 0x20FF) // Combining Diacritical Marks for Symbols
}
