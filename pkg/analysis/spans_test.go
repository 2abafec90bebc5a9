package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/model"
)

func TestLocate(t *testing.T) {
	doc := "Section 1. The Tenant shall pay rent monthly. Late fees apply after 5 days.\nSection 2. Either party may terminate with 30 days notice."

	tests := []struct {
		name  string
		quote string
		want  string
	}{
		{"exact", "Late fees apply after 5 days.", "Late fees apply after 5 days."},
		{"ellipsis", "Section 2. Either party may...", "Section 2. Either party may"},
		{"reworded sentence", "The tenant shall pay the rent monthly.", "The Tenant shall pay rent monthly."},
		{"reworded line", "Section 2. Either party may terminate with thirty days notice.", "Section 2. Either party may terminate with 30 days notice."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span := locate(doc, tt.quote)
			require.NotNil(t, span)
			assert.Equal(t, tt.want, doc[span.Start:span.End])
		})
	}

	assert.Nil(t, locate(doc, "Governing law is the State of Delaware."))
	assert.Nil(t, locate(doc, "   "))
	assert.Nil(t, locate("", "anything"))
}

func TestSegmentsSkipBlankLines(t *testing.T) {
	doc := "one.\n\n  two; three  \n"
	var got []string
	for _, s := range segments(doc) {
		got = append(got, doc[s.start:s.end])
	}
	assert.Equal(t, []string{"one.", "two; three", "two;", "three"}, got)
}

func TestDecode(t *testing.T) {
	risk, err := decode[model.RiskAssessment](`{"score":"low","reasoning":"r","topRisks":[]}`)
	require.NoError(t, err)
	assert.Equal(t, model.LevelLow, risk.Score)

	steps, err := decode[model.NextSteps]("```json\n{\"steps\":[],\"disclaimer\":\"d\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "d", steps.Disclaimer)

	_, err = decode[model.NextSteps]("not json")
	assert.True(t, errors.Is(err, errors.ErrMalformedOutput))
}
