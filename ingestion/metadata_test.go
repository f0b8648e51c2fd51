package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractRevisionDate(t *testing.T) {
	e := NewExtractor([]string{"HRP Templates"}, nil)

	cases := []struct {
		name string
		doc  string
		text string
		want string
	}{
		{"leading header", "HRP-103", "hrp-103 | 5/1/2023\nRevised: 6/1/2024", "05/01/2023"},
		{"latest labeled date", "HRP-090", "Revised: 1/5/2020\nRevision Date: 3/2/2022\nEffective date 12/31/2021", "03/02/2022"},
		{"no date", "HRP-001", "This policy has no dates at all.", ""},
		{"invalid date ignored", "HRP-002", "Revised: 13/45/2020", ""},
		{"invalid next to valid", "HRP-004", "Revised: 13/45/2020 and revised 2/29/2020", "02/29/2020"},
		{"skip list", "HRP Templates", "hrp-000 | 1/1/2024", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.ExtractRevisionDate(tc.doc, tc.text))
		})
	}
}
