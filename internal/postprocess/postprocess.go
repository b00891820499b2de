package postprocess

import (
	"regexp"
	"strings"
	"unicode"
)

// Processor is an opaque text transform applied to transcripts before
// they are cached and delivered. Implementations must be pure with
// respect to their input.
type Processor interface {
	Process(text string) string
}

// Normalizer cleans up raw speech-model output: hesitation fillers,
// whitespace runs, spacing around punctuation, and sentence
// capitalization.
type Normalizer struct {
	hesitations []*regexp.Regexp
}

var (
	spaceRuns   = regexp.MustCompile(`\s+`)
	spaceBefore = regexp.MustCompile(`\s+([,.!?;:])`)
)

// Hesitation fillers removed from transcripts, matched as whole words.
var fillerWords = []string{"hum", "uhm", "ahn", "uhh", "ehh"}

// NewNormalizer creates the default post-processor.
func NewNormalizer() *Normalizer {
	patterns := make([]*regexp.Regexp, len(fillerWords))
	for i, w := range fillerWords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + w + `\b[,.]?`)
	}
	return &Normalizer{hesitations: patterns}
}

// Process applies all transforms in order.
func (n *Normalizer) Process(text string) string {
	for _, p := range n.hesitations {
		text = p.ReplaceAllString(text, "")
	}
	text = spaceRuns.ReplaceAllString(text, " ")
	text = spaceBefore.ReplaceAllString(text, "$1")
	text = capitalizeSentences(strings.TrimSpace(text))
	return text
}

// capitalizeSentences upper-cases the first letter of the text and of
// each sentence following terminal punctuation.
func capitalizeSentences(text string) string {
	runes := []rune(text)
	capitalizeNext := true
	for i, r := range runes {
		if capitalizeNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capitalizeNext = false
			continue
		}
		if r == '.' || r == '!' || r == '?' {
			capitalizeNext = true
		}
	}
	return string(runes)
}

// Noop performs no transformation. Used when post-processing is
// disabled.
type Noop struct{}

func (Noop) Process(text string) string { return text }
