package nlp

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/language/apiv2/languagepb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	resp *languagepb.AnalyzeEntitiesResponse
	err  error
}

func (f *fakeAnalyzer) AnalyzeEntities(ctx context.Context, req *languagepb.AnalyzeEntitiesRequest, opts ...gax.CallOption) (*languagepb.AnalyzeEntitiesResponse, error) {
	return f.resp, f.err
}

func TestResolveLocationPicksFirstPlace(t *testing.T) {
	client := &fakeAnalyzer{resp: &languagepb.AnalyzeEntitiesResponse{
		Entities: []*languagepb.Entity{
			{Name: "firefighters", Type: languagepb.Entity_PERSON},
			{Name: "Paradise, CA", Type: languagepb.Entity_LOCATION, Mentions: []*languagepb.EntityMention{
				{Text: &languagepb.TextSpan{Content: "Paradise, CA", BeginOffset: 10}, Probability: 0.9},
			}},
			{Name: "Chico", Type: languagepb.Entity_LOCATION},
		},
	}}

	loc, err := NewLocationResolver(client).ResolveLocation(context.Background(), "fire near Paradise, CA")
	require.NoError(t, err)
	assert.Equal(t, "Paradise, CA", loc)
}

func TestResolveLocationNone(t *testing.T) {
	client := &fakeAnalyzer{resp: &languagepb.AnalyzeEntitiesResponse{
		Entities: []*languagepb.Entity{{Name: "smoke", Type: languagepb.Entity_OTHER}},
	}}
	loc, err := NewLocationResolver(client).ResolveLocation(context.Background(), "smoke")
	require.NoError(t, err)
	assert.Empty(t, loc)

	_, err = NewLocationResolver(&fakeAnalyzer{err: errors.New("quota")}).ResolveLocation(context.Background(), "x")
	assert.Error(t, err)
}

func TestAnalyzeEntitiesKeepsBestMention(t *testing.T) {
	client := &fakeAnalyzer{resp: &languagepb.AnalyzeEntitiesResponse{
		Entities: []*languagepb.Entity{
			{Name: "Houston", Type: languagepb.Entity_LOCATION, Mentions: []*languagepb.EntityMention{
				{Text: &languagepb.TextSpan{Content: "Houston"}, Probability: 0.4},
				{Text: &languagepb.TextSpan{Content: "H-Town"}, Probability: 0.8},
			}},
		},
	}}

	entities, err := AnalyzeEntities(context.Background(), client, "Houston flooding, H-Town underwater")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "LOCATION", entities[0].Type)
	assert.Equal(t, []string{"Houston", "H-Town"}, entities[0].Mentions)
	assert.InDelta(t, 0.8, entities[0].Probability, 1e-6)
}
