package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-redzone/classifier"
	"go-redzone/db"
	"go-redzone/detection"
	"go-redzone/dispatch"
	"go-redzone/types"
)

// stubClassifier labels every report like the Houston flood reports unless
// the text has an override.
type stubClassifier struct {
	overrides map[string]types.ClassifiedReport
	err       error
}

func (s stubClassifier) Classify(ctx context.Context, in classifier.Input) (types.ClassifiedReport, error) {
	if s.err != nil {
		return types.ClassifiedReport{}, s.err
	}
	if r, ok := s.overrides[in.Text]; ok {
		r.TweetText = in.Text
		return r, nil
	}
	return types.ClassifiedReport{
		DisasterType:           types.Hurricane,
		Informativeness:        types.Informative,
		HumanitarianCategories: []string{types.CategoryCasualties},
		Location:               "Houston, TX",
		DamageSeverity:         types.SevereDamage,
		SeriousnessScore:       0.9,
		TweetText:              in.Text,
	}, nil
}

type recordingDispatcher struct {
	mu        sync.Mutex
	locations []string
}

func (r *recordingDispatcher) DispatchLocationAlert(ctx context.Context, location string, disasterType types.DisasterType, timeout time.Duration) (dispatch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = append(r.locations, location)
	return dispatch.Result{Status: dispatch.StatusCompleted}, nil
}

type failingReports struct{ db.ReportStore }

func (failingReports) InsertIfAbsent(ctx context.Context, report types.ClassifiedReport) (bool, error) {
	return false, errors.New("firestore unavailable")
}

type failingAggregates struct{ db.AggregateStore }

func (failingAggregates) Update(ctx context.Context, location string, fn db.UpdateFunc) (types.LocationAggregate, error) {
	return types.LocationAggregate{}, errors.New("transaction aborted")
}

func newTestWorkflow(c classifier.Classifier, reports db.ReportStore, aggregates db.AggregateStore) (*Workflow, *dispatch.Runner, *recordingDispatcher) {
	d := &recordingDispatcher{}
	runner := dispatch.NewRunner(d, dispatch.RunnerOptions{})
	w := NewWorkflow(c, reports, NewAggregator(aggregates), detection.NewEvaluator(detection.DefaultThresholds()), runner)
	return w, runner, d
}

func TestWorkflowHoustonTriggersOnEighthReport(t *testing.T) {
	store := db.NewMemory()
	w, runner, d := newTestWorkflow(stubClassifier{}, store, store)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		res, err := w.Run(ctx, classifier.Input{Text: fmt.Sprintf("Houston flooding report %d", i)})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, types.StateAlertSkipped, res.State)
		assert.Equal(t, types.ReasonThresholdsNotMet, res.Alert.Reason)
		assert.False(t, res.AlertTriggered)
		assert.Equal(t, i, res.Aggregate.TweetCount)
	}

	res, err := w.Run(ctx, classifier.Input{Text: "Houston flooding report 8"})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.InDelta(t, 0.8611, res.Contribution, 1e-9)
	assert.Equal(t, 8, res.Aggregate.TweetCount)
	assert.InDelta(t, 0.8611, res.Aggregate.AggregateScore, 1e-9)
	assert.True(t, res.AlertTriggered)
	assert.Equal(t, types.StateAlertTriggered, res.State)
	assert.Equal(t, types.ReasonThresholdsMet, res.Alert.Reason)
	assert.NotEmpty(t, res.Alert.DispatchID)
	assert.Empty(t, res.Errors)

	// A ninth report lands while the location is cooling down.
	res, err = w.Run(ctx, classifier.Input{Text: "Houston flooding report 9"})
	require.NoError(t, err)
	assert.False(t, res.AlertTriggered)
	assert.Contains(t, []string{types.ReasonDispatchInProgress, types.ReasonCooldown}, res.Alert.Reason)

	runner.Wait()
	assert.Equal(t, []string{"Houston, TX"}, d.locations)
}

func TestWorkflowDuplicateSkipsAggregation(t *testing.T) {
	store := db.NewMemory()
	w, _, _ := newTestWorkflow(stubClassifier{}, store, store)
	ctx := context.Background()

	first, err := w.Run(ctx, classifier.Input{Text: "Flooding on I-45"})
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := w.Run(ctx, classifier.Input{Text: "Flooding on I-45"})
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, types.StateDuplicate, second.State)
	assert.Nil(t, second.Aggregate)
	assert.Equal(t, StatusSuccess, second.Status)

	agg, err := store.Get(ctx, "Houston, TX")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TweetCount)
}

func TestWorkflowClassifierFailureIsFatal(t *testing.T) {
	store := db.NewMemory()
	w, _, _ := newTestWorkflow(stubClassifier{err: errors.New("model down")}, store, store)

	res, err := w.Run(context.Background(), classifier.Input{Text: "anything"})
	assert.Error(t, err)
	assert.Nil(t, res)

	ok, err := store.Exists(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkflowStoreFailureIsPartial(t *testing.T) {
	store := db.NewMemory()
	w, _, _ := newTestWorkflow(stubClassifier{}, failingReports{store}, store)

	res, err := w.Run(context.Background(), classifier.Input{Text: "Houston flooding"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, "firestore unavailable", res.Errors["store"])
	assert.False(t, res.Inserted)
	assert.Nil(t, res.Aggregate)
	assert.Equal(t, types.Hurricane, res.Classification.DisasterType)
}

func TestWorkflowAggregateFailureIsPartial(t *testing.T) {
	store := db.NewMemory()
	w, _, _ := newTestWorkflow(stubClassifier{}, store, failingAggregates{store})

	res, err := w.Run(context.Background(), classifier.Input{Text: "Houston flooding"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.True(t, res.Inserted)
	assert.Contains(t, res.Errors["aggregate"], "transaction aborted")
	assert.Equal(t, types.StateStored, res.State)
}

func TestWorkflowWithoutLocationSkipsAggregation(t *testing.T) {
	store := db.NewMemory()
	c := stubClassifier{overrides: map[string]types.ClassifiedReport{
		"smoke somewhere": {DisasterType: types.Fire, Location: types.NoLocation},
	}}
	w, _, _ := newTestWorkflow(c, store, store)

	res, err := w.Run(context.Background(), classifier.Input{Text: "smoke somewhere"})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, types.StateStored, res.State)
	assert.Equal(t, types.ReasonNoLocation, res.Alert.Reason)
	assert.Nil(t, res.Aggregate)

	all, err := store.List(context.Background(), db.AggregateQuery{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWorkflowConcurrentReportsForOneLocation(t *testing.T) {
	store := db.NewMemory()
	w, _, _ := newTestWorkflow(stubClassifier{}, store, store)

	var wg sync.WaitGroup
	for _, text := range []string{"report A", "report B"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := w.Run(context.Background(), classifier.Input{Text: text})
			assert.NoError(t, err)
		}(text)
	}
	wg.Wait()

	agg, err := store.Get(context.Background(), "Houston, TX")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TweetCount)
}

func TestWorkflowImageOnlyReportsAreStoredAndDeduplicated(t *testing.T) {
	store := db.NewMemory()
	w, runner, _ := newTestWorkflow(stubClassifier{}, store, store)
	defer runner.Wait()
	ctx := context.Background()

	byURL := classifier.Input{Kind: classifier.KindJSON, ImageURL: "https://cdn.example.com/flood.jpg"}
	res, err := w.Run(ctx, byURL)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status, res.Errors)
	assert.True(t, res.Inserted)
	assert.Equal(t, "[image] https://cdn.example.com/flood.jpg", res.Classification.TweetText)
	require.NotNil(t, res.Aggregate)
	assert.Equal(t, 1, res.Aggregate.TweetCount)

	res, err = w.Run(ctx, byURL)
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.Equal(t, types.StateDuplicate, res.State)

	upload := classifier.Input{Kind: classifier.KindBinary, Image: &classifier.Image{MediaType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nflood")}}
	res, err = w.Run(ctx, upload)
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Contains(t, res.Classification.TweetText, "[image sha256:")
	require.NotNil(t, res.Aggregate)
	assert.Equal(t, 2, res.Aggregate.TweetCount)
}

func TestRunFeed(t *testing.T) {
	store := db.NewMemory()
	w, _, _ := newTestWorkflow(stubClassifier{}, store, store)

	feed := types.FeedResponse{Feed: []types.FeedEntry{
		{Post: types.Post{URI: "at://a/1", Record: types.Record{Text: "Houston streets underwater"}}},
		{Post: types.Post{URI: "at://a/2", Record: types.Record{Text: "Houston streets underwater"}}},
		{Post: types.Post{URI: "at://a/3", Record: types.Record{Text: "  "}}},
		{Post: types.Post{Record: types.Record{Text: "no uri"}}},
	}}

	results := w.RunFeed(context.Background(), feed)
	require.Len(t, results, 2)

	inserted := 0
	for _, r := range results {
		assert.Empty(t, r.Error)
		if r.Inserted {
			inserted++
		} else {
			assert.Equal(t, types.StateDuplicate, r.State)
		}
	}
	assert.Equal(t, 1, inserted)
}
