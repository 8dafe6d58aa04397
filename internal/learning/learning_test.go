package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Oi, tudo bem? Vamos ao CINEMA hoje!!")
	assert.Equal(t, []string{"tudo", "bem", "vamos", "cinema", "hoje"}, got)
}

func TestLearn_FirstMessage(t *testing.T) {
	snap := Learn("Oi, tudo bem?", Snapshot{})

	assert.Equal(t, 1, snap.MessageCount)
	assert.InDelta(t, 0.005, snap.LearningProgress, 1e-9)
	assert.Equal(t, 2, snap.VocabularySize)
	assert.Equal(t, []int{13}, snap.Patterns.MessageLengths)
	assert.Equal(t, map[string]int{"tudo": 1, "bem": 1}, snap.Patterns.Vocabulary)
	assert.Equal(t, []int{-1}, snap.Style.Formality)
	assert.Equal(t, PunctuationUsage{Question: 1, TotalMessages: 1}, snap.Style.Punctuation)
	assert.Equal(t, []int{0}, snap.Style.Abbreviation)
}

func TestLearn_DoesNotMutateInput(t *testing.T) {
	prev := Snapshot{
		MessageCount: 3,
		Patterns: ConversationPatterns{
			MessageLengths: []int{4, 5, 6},
			Vocabulary:     map[string]int{"tudo": 2},
			Emojis:         map[string]int{},
		},
	}
	_ = Learn("tudo certo 😀", prev)

	assert.Equal(t, map[string]int{"tudo": 2}, prev.Patterns.Vocabulary)
	assert.Empty(t, prev.Patterns.Emojis)
	assert.Equal(t, []int{4, 5, 6}, prev.Patterns.MessageLengths)
}

func TestProgress_CapsAtNinetyFivePercent(t *testing.T) {
	assert.InDelta(t, 0.5, Progress(100), 1e-9)
	assert.InDelta(t, 0.95, Progress(190), 1e-9)
	assert.InDelta(t, 0.95, Progress(10_000), 1e-9)
}

func TestAnalyzePatterns_TrimsLengthHistory(t *testing.T) {
	prev := ConversationPatterns{MessageLengths: make([]int, 100)}
	got := AnalyzePatterns("abc", prev)

	require.Len(t, got.MessageLengths, 50)
	assert.Equal(t, 3, got.MessageLengths[49])
}

func TestAnalyzePatterns_CountsEmojiRanges(t *testing.T) {
	got := AnalyzePatterns("bora 🚀🚀 😀 🇧🇷 ❤", ConversationPatterns{})

	assert.Equal(t, 2, got.Emojis["🚀"])
	assert.Equal(t, 1, got.Emojis["😀"])
	assert.Equal(t, 1, got.Emojis["🇧"])
	assert.Equal(t, 1, got.Emojis["🇷"])
	assert.NotContains(t, got.Emojis, "❤")
}

func TestAnalyzePatterns_MessageLengthCountsGraphemes(t *testing.T) {
	got := AnalyzePatterns("olá 🇧🇷", ConversationPatterns{})
	assert.Equal(t, []int{5}, got.MessageLengths)
}

func TestAnalyzeStyle_MarkersMatchWholeWords(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		formality     int
		abbreviations int
	}{
		{name: "formal phrase", text: "Por favor, senhor, me ajude. Obrigado!", formality: 3},
		{name: "informal", text: "oi cara, valeu! tchau", formality: -4},
		{name: "substring is not a marker", text: "Caramba, que coisa", formality: 0},
		{name: "abbreviations", text: "vc vem? tb vou, blz", formality: 0, abbreviations: 3},
		{name: "repeated marker counts once", text: "vc vc vc", abbreviations: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeStyle(tt.text, StyleAnalysis{})
			assert.Equal(t, []int{tt.formality}, got.Formality)
			assert.Equal(t, []int{tt.abbreviations}, got.Abbreviation)
		})
	}
}

func TestAnalyzeStyle_AccumulatesPunctuationAndTrims(t *testing.T) {
	prev := StyleAnalysis{
		Formality:    make([]int, 50),
		Abbreviation: make([]int, 50),
		Punctuation:  PunctuationUsage{Exclamation: 2, Question: 1, TotalMessages: 7},
	}
	got := AnalyzeStyle("sério?! não!!", prev)

	assert.Len(t, got.Formality, 25)
	assert.Len(t, got.Abbreviation, 25)
	assert.Equal(t, PunctuationUsage{Exclamation: 5, Question: 2, TotalMessages: 8}, got.Punctuation)
	assert.Len(t, prev.Formality, 50)
}

func TestVocabularySize_UnionOfKnownAndNew(t *testing.T) {
	patterns := ConversationPatterns{Vocabulary: map[string]int{"tudo": 3, "certo": 1}}
	assert.Equal(t, 3, VocabularySize("tudo bem", patterns))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, ConversationPatterns{}.IsEmpty())
	assert.True(t, StyleAnalysis{}.IsEmpty())
	assert.False(t, AnalyzeStyle("oi", StyleAnalysis{}).IsEmpty())
}
