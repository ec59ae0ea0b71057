package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-redzone/llm"
	"go-redzone/types"
)

type fakeLLM struct {
	reply  string
	err    error
	prompt llm.Prompt
}

func (f *fakeLLM) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	f.prompt = p
	return f.reply, f.err
}

type fakeResolver struct {
	location string
	calls    int
}

func (f *fakeResolver) ResolveLocation(ctx context.Context, text string) (string, error) {
	f.calls++
	return f.location, nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestClassifyNormalizesModelOutput(t *testing.T) {
	model := &fakeLLM{reply: "Here you go:\n```json\n" + `{
		"disaster_type": "Hurricane",
		"informativeness": "informative",
		"humanitarian_categories": ["infrastructure_damage", "rescue_operations", "rescue_operations", "weather"],
		"location": "Houston, TX",
		"damage_severity": "severe_damage",
		"seriousness_score": 0.9
	}` + "\n```"}

	c := NewLLMClassifier(model, nil)
	report, err := c.Classify(context.Background(), Input{Text: "Hurricane flooding Houston", Timestamp: "2024-01-01T00:00:00Z"})
	require.NoError(t, err)

	assert.Equal(t, types.Hurricane, report.DisasterType)
	assert.Equal(t, types.Informative, report.Informativeness)
	assert.Equal(t, []string{"infrastructure_damage", "rescue_operations"}, report.HumanitarianCategories)
	assert.Equal(t, "Houston, TX", report.Location)
	assert.Equal(t, types.SevereDamage, report.DamageSeverity)
	assert.InDelta(t, 0.9, report.SeriousnessScore, 1e-9)
	assert.Equal(t, "Hurricane flooding Houston", report.TweetText)
	assert.Equal(t, "2024-01-01T00:00:00Z", report.Timestamp)

	assert.True(t, model.prompt.JSON)
	assert.Nil(t, model.prompt.Image)
	assert.Contains(t, model.prompt.User, "Hurricane flooding Houston")
}

func TestClassifyUnknownValuesFallBack(t *testing.T) {
	model := &fakeLLM{reply: `{"disaster_type": "volcano", "informativeness": "maybe", "location": "", "damage_severity": "total"}`}

	report, err := NewLLMClassifier(model, nil).Classify(context.Background(), Input{Text: "smoke everywhere"})
	require.NoError(t, err)

	assert.Equal(t, types.OtherDisaster, report.DisasterType)
	assert.Equal(t, types.NotInformative, report.Informativeness)
	assert.Equal(t, []string{types.CategoryNone}, report.HumanitarianCategories)
	assert.Equal(t, types.NoLocation, report.Location)
	assert.Equal(t, types.CannotAssessDamage, report.DamageSeverity)
	assert.Zero(t, report.SeriousnessScore)
}

func TestClassifyModelFailures(t *testing.T) {
	_, err := NewLLMClassifier(&fakeLLM{err: errors.New("rate limited")}, nil).
		Classify(context.Background(), Input{Text: "fire"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classification failed")

	_, err = NewLLMClassifier(&fakeLLM{reply: "I cannot help with that"}, nil).
		Classify(context.Background(), Input{Text: "fire"})
	assert.ErrorIs(t, err, llm.ErrNoJSON)

	_, err = NewLLMClassifier(&fakeLLM{reply: "{not json}"}, nil).
		Classify(context.Background(), Input{Text: "fire"})
	assert.Error(t, err)
}

func TestClassifyRejectsEmptyInput(t *testing.T) {
	model := &fakeLLM{reply: "{}"}
	_, err := NewLLMClassifier(model, nil).Classify(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestClassifyFallsBackToResolverWithoutLocation(t *testing.T) {
	model := &fakeLLM{reply: `{"disaster_type": "flood", "location": "no_location_identified"}`}
	resolver := &fakeResolver{location: "Miami"}

	report, err := NewLLMClassifier(model, resolver).Classify(context.Background(), Input{Text: "Water rising near Miami"})
	require.NoError(t, err)
	assert.Equal(t, "Miami", report.Location)
	assert.Equal(t, 1, resolver.calls)

	model.reply = `{"disaster_type": "flood", "location": "Tampa"}`
	report, err = NewLLMClassifier(model, resolver).Classify(context.Background(), Input{Text: "Water rising"})
	require.NoError(t, err)
	assert.Equal(t, "Tampa", report.Location)
	assert.Equal(t, 1, resolver.calls)
}

func TestClassifyFetchesImageURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngHeader)
	}))
	defer srv.Close()

	model := &fakeLLM{reply: `{"disaster_type": "fire"}`}
	report, err := NewLLMClassifier(model, nil).Classify(context.Background(), Input{ImageURL: srv.URL + "/a.png"})
	require.NoError(t, err)
	assert.Equal(t, types.Fire, report.DisasterType)
	require.NotNil(t, model.prompt.Image)
	assert.Equal(t, "image/png", model.prompt.Image.MediaType)
}

func TestClassifyImageOnlyFailsWhenFetchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	model := &fakeLLM{reply: `{"disaster_type": "fire"}`}
	_, err := NewLLMClassifier(model, nil).Classify(context.Background(), Input{ImageURL: srv.URL})
	assert.ErrorIs(t, err, ErrEmptyInput)

	// With text present the classifier carries on without the image.
	report, err := NewLLMClassifier(model, nil).Classify(context.Background(), Input{Text: "fire downtown", ImageURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, types.Fire, report.DisasterType)
	assert.Nil(t, model.prompt.Image)
}

func TestParseLabelsAcceptsQuotedScore(t *testing.T) {
	report, err := ParseLabels(`{"seriousness_score": "0.65"}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, report.SeriousnessScore, 1e-9)
}
