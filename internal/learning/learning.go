// Package learning derives a per-user style profile from the text of
// incoming messages. Every function is pure: inputs are copied, never mutated.
package learning

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"github.com/samber/lo"
)

const (
	maxLengthHistory    = 100
	keptLengthHistory   = 50
	maxScoreHistory     = 50
	keptScoreHistory    = 25
	minTokenRunes       = 3
	progressPerMessage  = 0.005
	maxLearningProgress = 0.95
)

var (
	formalMarkers       = []string{"por favor", "obrigado", "desculpe", "senhor", "senhora"}
	informalMarkers     = []string{"oi", "tchau", "beleza", "valeu", "cara"}
	abbreviationMarkers = []string{"vc", "tb", "pq", "blz", "flw", "vlw"}
)

type PunctuationUsage struct {
	Exclamation   int `json:"exclamation"`
	Question      int `json:"question"`
	TotalMessages int `json:"total_messages"`
}

type ConversationPatterns struct {
	MessageLengths []int          `json:"message_lengths,omitempty"`
	Vocabulary     map[string]int `json:"vocabulary,omitempty"`
	Emojis         map[string]int `json:"emojis,omitempty"`
}

type StyleAnalysis struct {
	Formality    []int            `json:"formality,omitempty"`
	Punctuation  PunctuationUsage `json:"punctuation"`
	Abbreviation []int            `json:"abbreviation,omitempty"`
}

// Snapshot is the learned state for one user.
type Snapshot struct {
	MessageCount     int
	VocabularySize   int
	LearningProgress float64
	Patterns         ConversationPatterns
	Style            StyleAnalysis
}

func (p ConversationPatterns) IsEmpty() bool {
	return len(p.MessageLengths) == 0 && len(p.Vocabulary) == 0 && len(p.Emojis) == 0
}

func (s StyleAnalysis) IsEmpty() bool {
	return len(s.Formality) == 0 && len(s.Abbreviation) == 0 && s.Punctuation == PunctuationUsage{}
}

// Learn folds one incoming message into snap.
func Learn(text string, snap Snapshot) Snapshot {
	count := snap.MessageCount + 1
	return Snapshot{
		MessageCount:     count,
		VocabularySize:   VocabularySize(text, snap.Patterns),
		LearningProgress: Progress(count),
		Patterns:         AnalyzePatterns(text, snap.Patterns),
		Style:            AnalyzeStyle(text, snap.Style),
	}
}

func Progress(messageCount int) float64 {
	return min(maxLearningProgress, float64(messageCount)*progressPerMessage)
}

// Tokenize splits text on whitespace, strips surrounding punctuation and
// keeps lower-cased tokens of at least three runes.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := lo.Map(fields, func(f string, _ int) string {
		return strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
	})
	return lo.Filter(tokens, func(tok string, _ int) bool {
		return len([]rune(tok)) >= minTokenRunes
	})
}

func VocabularySize(text string, patterns ConversationPatterns) int {
	seen := make(map[string]struct{}, len(patterns.Vocabulary))
	for w := range patterns.Vocabulary {
		seen[w] = struct{}{}
	}
	for _, w := range Tokenize(text) {
		seen[w] = struct{}{}
	}
	return len(seen)
}

func AnalyzePatterns(text string, prev ConversationPatterns) ConversationPatterns {
	lengths := append(append([]int(nil), prev.MessageLengths...), uniseg.GraphemeClusterCount(text))
	if len(lengths) > maxLengthHistory {
		lengths = lengths[len(lengths)-keptLengthHistory:]
	}

	vocabulary := copyCounts(prev.Vocabulary)
	for _, w := range Tokenize(text) {
		vocabulary[w]++
	}

	emojis := copyCounts(prev.Emojis)
	for _, r := range text {
		if isEmoji(r) {
			emojis[string(r)]++
		}
	}

	return ConversationPatterns{
		MessageLengths: lengths,
		Vocabulary:     vocabulary,
		Emojis:         emojis,
	}
}

func AnalyzeStyle(text string, prev StyleAnalysis) StyleAnalysis {
	lower := strings.ToLower(text)
	words := wordSet(lower)

	formality := countMarkers(lower, words, formalMarkers) - countMarkers(lower, words, informalMarkers)
	abbreviations := countMarkers(lower, words, abbreviationMarkers)

	return StyleAnalysis{
		Formality: appendTrimmed(prev.Formality, formality),
		Punctuation: PunctuationUsage{
			Exclamation:   prev.Punctuation.Exclamation + strings.Count(text, "!"),
			Question:      prev.Punctuation.Question + strings.Count(text, "?"),
			TotalMessages: prev.Punctuation.TotalMessages + 1,
		},
		Abbreviation: appendTrimmed(prev.Abbreviation, abbreviations),
	}
}

func appendTrimmed(history []int, v int) []int {
	out := append(append([]int(nil), history...), v)
	if len(out) > maxScoreHistory {
		out = out[len(out)-keptScoreHistory:]
	}
	return out
}

// countMarkers counts how many distinct markers occur as whole words.
// Multi-word markers are matched against the space-joined word sequence.
func countMarkers(lower string, words map[string]struct{}, markers []string) int {
	joined := " " + strings.Join(splitWords(lower), " ") + " "
	return lo.CountBy(markers, func(m string) bool {
		if strings.Contains(m, " ") {
			return strings.Contains(joined, " "+m+" ")
		}
		_, ok := words[m]
		return ok
	})
}

func splitWords(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func wordSet(lower string) map[string]struct{} {
	return lo.SliceToMap(splitWords(lower), func(w string) (string, struct{}) {
		return w, struct{}{}
	})
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F:
	case r >= 0x1F300 && r <= 0x1F5FF:
	case r >= 0x1F680 && r <= 0x1F6FF:
	case r >= 0x1F1E0 && r <= 0x1F1FF:
	default:
		return false
	}
	return true
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}
