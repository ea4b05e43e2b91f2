package text

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// DefaultSeparators go from coarse to fine: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most Size characters, trying the
// coarsest separator first and recursing into pieces that are still too
// large. Consecutive chunks share up to Overlap characters.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

func NewDefaultSplitter() *Splitter {
	return NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
}

// Split returns the non-blank chunks of text in document order.
func (s *Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	var out []string
	for _, c := range s.split(text, seps) {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		for _, p := range strings.Split(text, sep) {
			if p != "" {
				pieces = append(pieces, p)
			}
		}
	}

	var final, small []string
	for _, p := range pieces {
		if length(p) < s.Size {
			small = append(small, p)
			continue
		}
		if len(small) > 0 {
			final = append(final, s.merge(small, sep)...)
			small = nil
		}
		if len(rest) == 0 {
			final = append(final, p)
		} else {
			final = append(final, s.split(p, rest)...)
		}
	}
	if len(small) > 0 {
		final = append(final, s.merge(small, sep)...)
	}
	return final
}

// merge packs pieces into windows no longer than Size, carrying the tail of
// each window into the next one until at most Overlap characters remain.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := length(sep)
	var docs, window []string
	total := 0

	joinedLen := func(n int) int {
		if len(window) > 0 {
			return total + n + sepLen
		}
		return total + n
	}

	for _, p := range pieces {
		n := length(p)
		if joinedLen(n) > s.Size && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.Overlap || (joinedLen(n) > s.Size && total > 0) {
				total -= length(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
		if len(window) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func length(s string) int { return utf8.RuneCountInString(s) }
