package ingestion

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyText = "One two three. Four five six seven. Eight nine.\n\nTen eleven twelve thirteen fourteen."

func TestPassagesOverlapAndBounds(t *testing.T) {
	passages := slices.Collect(Passages(policyText, 5, 2))

	require.Equal(t, []Passage{
		{Text: "One two three.", OverlapTokens: 0},
		{Text: "three. Four five six seven.", OverlapTokens: 1},
		{Text: "six seven. Eight nine.", OverlapTokens: 2},
		{Text: "Ten eleven twelve thirteen fourteen.", OverlapTokens: 0},
	}, passages)

	for _, p := range passages {
		assert.LessOrEqual(t, len(strings.Fields(p.Text)), 5)
	}
}

func TestPassagesReconstructInput(t *testing.T) {
	text := strings.Repeat("The board reviews each protocol annually! Is consent documented? Yes.\n", 20)

	for _, tc := range []struct{ size, overlap int }{{4, 0}, {8, 3}, {16, 15}, {512, 30}} {
		var kept []string
		for p := range Passages(text, tc.size, tc.overlap) {
			kept = append(kept, strings.Fields(p.Text)[p.OverlapTokens:]...)
		}
		assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(kept, " "), "size %d overlap %d", tc.size, tc.overlap)
	}
}

func TestChunkKeepsOversizedSentenceWhole(t *testing.T) {
	chunks := slices.Collect(Chunk("Short one. a b c d e f g h. Tail.", 3, 1))
	assert.Equal(t, []string{"Short one.", "a b c d e f g h.", "h. Tail."}, chunks)
}

func TestChunkEmptyInput(t *testing.T) {
	assert.Empty(t, slices.Collect(Chunk("", 10, 2)))
	assert.Empty(t, slices.Collect(Chunk(" \n\n\t ", 10, 2)))
}

func TestChunkSequenceIsRestartable(t *testing.T) {
	seq := Chunk(policyText, 5, 2)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
	assert.Len(t, first, 4)
}

func TestChunkStopsEarly(t *testing.T) {
	var got []string
	for c := range Chunk(policyText, 5, 0) {
		got = append(got, c)
		break
	}
	assert.Equal(t, []string{"One two three."}, got)
}

func TestSplitSentencesKeepsUnterminatedTail(t *testing.T) {
	assert.Equal(t,
		[]string{"Version 1.2 applies.", "See section 4", "Done?"},
		splitSentences("Version 1.2 applies. See section 4\n  \nDone?"))
}
