package summarize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeShortInputNoForceReturnsNil(t *testing.T) {
	s := Summarize("short text", false)
	require.Nil(t, s)
}

func TestSummarizeShortInputForcedReturnsSummary(t *testing.T) {
	s := Summarize("Hello there. How are you?", true)
	require.NotNil(t, s)
	require.Equal(t, "Hello there. How are you?", *s)
}

func TestSummarizeLongInputAccumulatesSentences(t *testing.T) {
	sentence := "This is a sentence that repeats. "
	text := strings.Repeat(sentence, 50)

	s := Summarize(text, false)
	require.NotNil(t, s)
	require.LessOrEqual(t, len(*s), TargetLength)
	require.True(t, strings.HasPrefix(*s, "This is a sentence that repeats."))
}

func TestSummarizeNoSentenceBoundaryHardTruncates(t *testing.T) {
	text := strings.Repeat("a", 2000)
	s := Summarize(text, false)
	require.NotNil(t, s)
	require.True(t, strings.HasSuffix(*s, "..."))
	require.LessOrEqual(t, len(*s), TargetLength+len("..."))
}

func TestSummarizeEmptyReturnsNil(t *testing.T) {
	require.Nil(t, Summarize("", true))
}

func TestSummarizeIdempotentOnShortOutput(t *testing.T) {
	first := Summarize("One sentence. Two sentence.", true)
	require.NotNil(t, first)
	second := Summarize(*first, true)
	require.NotNil(t, second)
	require.Equal(t, *first, *second)
}
