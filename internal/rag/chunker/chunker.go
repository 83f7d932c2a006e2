package chunker

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Splitting is deterministic on purpose: re-running ingestion on unchanged
// content must reproduce identical chunk boundaries and therefore identical
// vector ids.

// Separators ordered from "best" to "worst" for semantic meaning
var separators = []string{"\n\n", "\n", ". ", " "}

type Options struct {
	TargetSize   int     //characters per chunk
	OverlapFract float64 //overlap as a fraction of TargetSize
	MinLength    int     //trailing fragments shorter than this merge backwards
}

// Split cuts text into overlapping windows of roughly TargetSize characters,
// preferring paragraph and sentence breaks, hard-splitting only when a single
// unbroken run exceeds the target.
func Split(text string, opts Options) []string {
	if opts.TargetSize <= 0 {
		opts.TargetSize = 1000
	}
	overlap := int(float64(opts.TargetSize) * opts.OverlapFract)
	if overlap >= opts.TargetSize {
		overlap = opts.TargetSize / 2
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.TargetSize {
		return []string{text}
	}

	parts := splitOnBestSeparator(text, opts.TargetSize)

	var chunks []string
	var current strings.Builder
	carried := 0 //overlap chars at the front of current

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := current.String()
		chunks = append(chunks, chunk)

		// next chunk starts with the tail of this one
		current.Reset()
		carried = 0
		if overlap > 0 && len(chunk) > overlap {
			current.WriteString(chunk[len(chunk)-overlap:])
			carried = overlap
		}
	}

	for _, part := range parts {
		if current.Len() > 0 && current.Len()+len(part) > opts.TargetSize {
			flush()
		}
		current.WriteString(part)

		// a single part can still be oversized after a hard split fallback
		for current.Len() > opts.TargetSize {
			chunk := current.String()
			chunks = append(chunks, chunk[:opts.TargetSize])
			rest := chunk[opts.TargetSize-overlap:]
			current.Reset()
			current.WriteString(rest)
			carried = overlap
		}
	}
	if current.Len() > 0 {
		last := current.String()
		fresh := last[carried:]
		if opts.MinLength > 0 && len(chunks) > 0 && len(fresh) < opts.MinLength {
			// too little new text to stand alone as its own vector
			chunks[len(chunks)-1] += fresh
		} else {
			chunks = append(chunks, last)
		}
	}

	return chunks
}

// splitOnBestSeparator breaks the text on the strongest separator that
// actually yields pieces no larger than roughly the target, recursing to
// weaker separators for oversized pieces. Separator characters stay attached
// to the preceding piece so concatenating all parts reproduces the input.
func splitOnBestSeparator(text string, target int) []string {
	return splitRecursive(text, target, 0)
}

func splitRecursive(text string, target int, sepIdx int) []string {
	if len(text) <= target || sepIdx >= len(separators) {
		return []string{text}
	}

	sep := separators[sepIdx]
	if !strings.Contains(text, sep) {
		return splitRecursive(text, target, sepIdx+1)
	}

	raw := strings.SplitAfter(text, sep)
	var parts []string
	for _, piece := range raw {
		if piece == "" {
			continue
		}
		if len(piece) > target {
			parts = append(parts, splitRecursive(piece, target, sepIdx+1)...)
		} else {
			parts = append(parts, piece)
		}
	}
	return parts
}

// chunk ids double as vector-store point ids, so they are name-based UUIDs
// over everything that identifies the chunk's exact content and position
var chunkNamespace = uuid.MustParse("8c9e6af1-6f7b-4f3e-9a64-24c52f4b8e11")

// ChunkID derives the deterministic vector id for one chunk.
func ChunkID(kbId, docId string, ordinal int, contentHash string) string {
	name := kbId + ":" + docId + ":" + strconv.Itoa(ordinal) + ":" + contentHash
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
