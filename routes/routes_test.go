package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-redzone/classifier"
	"go-redzone/db"
	"go-redzone/detection"
	"go-redzone/dispatch"
	"go-redzone/intent"
	"go-redzone/processor"
	"go-redzone/types"
)

type stubClassifier struct {
	err error
}

func (s stubClassifier) Classify(ctx context.Context, in classifier.Input) (types.ClassifiedReport, error) {
	if s.err != nil {
		return types.ClassifiedReport{}, s.err
	}
	return types.ClassifiedReport{
		DisasterType:           types.Wildfire,
		Informativeness:        types.Informative,
		HumanitarianCategories: []string{types.CategoryDisplacedPeople},
		Location:               "Paradise, CA",
		DamageSeverity:         types.SevereDamage,
		SeriousnessScore:       0.8,
		TweetText:              in.Text,
	}, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	calls    []string
	timeouts []time.Duration
}

func (r *recordingDispatcher) DispatchLocationAlert(ctx context.Context, location string, disasterType types.DisasterType, timeout time.Duration) (dispatch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, location+"/"+string(disasterType))
	r.timeouts = append(r.timeouts, timeout)
	return dispatch.Result{Status: dispatch.StatusNoUsers, CalledUsers: []dispatch.UserResult{}}, nil
}

type testServer struct {
	router     *gin.Engine
	store      *db.Memory
	dispatcher *recordingDispatcher
}

func newTestServer(t *testing.T, cls classifier.Classifier) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := db.NewMemory()
	d := &recordingDispatcher{}
	runner := dispatch.NewRunner(d, dispatch.RunnerOptions{})
	t.Cleanup(runner.Wait)

	aggregator := processor.NewAggregator(store)
	workflow := processor.NewWorkflow(cls, store, aggregator, detection.NewEvaluator(detection.DefaultThresholds()), runner)

	router := SetupRouter(Deps{
		Classifier: cls,
		Reports:    store,
		Aggregates: store,
		Aggregator: aggregator,
		Dispatcher: d,
		Workflow:   workflow,
	})
	return &testServer{router: router, store: store, dispatcher: d}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, stubClassifier{})

	w := s.do(http.MethodOptions, "/api/redzone/classify", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.do(http.MethodGet, "/api/redzone/crisis-map/disaster-types", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestClassify(t *testing.T) {
	s := newTestServer(t, stubClassifier{})

	w := s.do(http.MethodPost, "/api/redzone/classify", map[string]string{"tweet_text": "Camp fire spreading fast"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "wildfire", out["disaster_type"])
	assert.Equal(t, "Camp fire spreading fast", out["tweet_text"])

	// Root alias.
	w = s.do(http.MethodPost, "/classify", map[string]string{"tweet_text": "Camp fire spreading fast"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClassifyErrors(t *testing.T) {
	s := newTestServer(t, stubClassifier{})
	w := s.do(http.MethodPost, "/api/redzone/classify", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "tweet_text")

	req := httptest.NewRequest(http.MethodPost, "/api/redzone/classify", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failing := newTestServer(t, stubClassifier{err: errors.New("model unavailable")})
	w = failing.do(http.MethodPost, "/api/redzone/classify", map[string]string{"tweet_text": "flood"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "model unavailable", decode(t, w)["error"])
}

func TestClassifyOversizedBody(t *testing.T) {
	s := newTestServer(t, stubClassifier{})
	body := `{"tweet_text":"` + strings.Repeat("a", 2*classifier.MaxImageBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/redzone/orchestrate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, classifier.ErrTooLarge.Error(), decode(t, w)["error"])
}

func TestPushToStore(t *testing.T) {
	s := newTestServer(t, stubClassifier{})
	report := map[string]interface{}{
		"disaster_type":   "flood",
		"informativeness": "informative",
		"location":        "Miami",
		"tweet_text":      "Brickell is underwater",
	}

	w := s.do(http.MethodPost, "/api/redzone/push-to-store", report)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["inserted"])

	w = s.do(http.MethodPost, "/api/redzone/push-to-store", report)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["inserted"])

	w = s.do(http.MethodPost, "/api/redzone/push-to-store", map[string]string{"tweet_text": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "disaster_type, informativeness, location")
}

func TestGetAggregate(t *testing.T) {
	s := newTestServer(t, stubClassifier{})
	body := map[string]interface{}{
		"location":                "Houston, TX",
		"seriousness_score":       0.9,
		"informativeness":         "informative",
		"damage_severity":         "severe_damage",
		"humanitarian_categories": []string{"casualties"},
	}

	w := s.do(http.MethodPost, "/api/redzone/get-aggregate", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "unknown", out["disaster_type"])
	assert.InDelta(t, 0.8611, out["aggregate_score"], 1e-9)
	assert.Equal(t, float64(1), out["tweet_count"])

	body["disaster_type"] = "hurricane"
	w = s.do(http.MethodPost, "/api/redzone/get-aggregate", body)
	out = decode(t, w)
	assert.Equal(t, "hurricane", out["disaster_type"])
	assert.Equal(t, float64(2), out["tweet_count"])

	w = s.do(http.MethodPost, "/api/redzone/get-aggregate", map[string]string{"disaster_type": "flood"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerCallForLocation(t *testing.T) {
	s := newTestServer(t, stubClassifier{})

	w := s.do(http.MethodPost, "/api/redzone/trigger-call-for-location", map[string]string{"location": "Tulsa"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/redzone/trigger-call-for-location", map[string]interface{}{
		"location":        "Tulsa",
		"disaster_type":   "tornado",
		"timeout_minutes": 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, dispatch.StatusNoUsers, out["status"])
	assert.Equal(t, []string{"Tulsa/tornado"}, s.dispatcher.calls)
	assert.Equal(t, []time.Duration{10 * time.Minute}, s.dispatcher.timeouts)
}

// hangupCalls cancels the caller's request as soon as the first call is
// placed, then reports each call in progress once before it completes.
type hangupCalls struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	placed []string
	polls  map[string]int
}

func (h *hangupCalls) PlaceCall(ctx context.Context, phone string, cc types.CallContext) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.placed = append(h.placed, phone)
	h.cancel()
	return "call-" + phone, nil
}

func (h *hangupCalls) GetCallStatus(ctx context.Context, callID string) (types.CallStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return types.CallStatus{}, err
	}
	h.polls[callID]++
	if h.polls[callID] == 1 {
		return types.CallStatus{State: types.CallInProgress, Raw: "in-progress"}, nil
	}
	return types.CallStatus{
		State:      types.CallCompleted,
		Raw:        "ended",
		Transcript: "AI: The nearest shelter is at Lincoln High School. Should we notify your emergency contacts?\nUser: Yes please.",
	}, nil
}

type countingSMS struct {
	mu   sync.Mutex
	sent []string
}

func (c *countingSMS) Send(ctx context.Context, phone, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, phone)
	return nil
}

func TestTriggerCallSurvivesClientDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := db.NewMemory()
	ctx := context.Background()
	for _, u := range []types.User{
		{PhoneNumber: "+17135550001", Address: "Houston", EmergencyContacts: []string{"+17135550101"}, Active: true},
		{PhoneNumber: "+17135550002", Address: "Houston", EmergencyContacts: []string{"+17135550102"}, Active: true},
	} {
		require.NoError(t, store.UpsertUser(ctx, u))
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	calls := &hangupCalls{cancel: cancel, polls: map[string]int{}}
	texts := &countingSMS{}
	d := dispatch.NewDispatcher(store, calls, texts, intent.NewPatternExtractor(), dispatch.Options{
		CallsPerSecond: 1000,
		SMSPerSecond:   1000,
		InProgressPoll: time.Millisecond,
		TranscriptPoll: time.Millisecond,
	})
	router := SetupRouter(Deps{Dispatcher: d})

	body, _ := json.Marshal(map[string]interface{}{"location": "Houston", "disaster_type": "flood", "timeout_minutes": 1})
	req := httptest.NewRequest(http.MethodPost, "/api/redzone/trigger-call-for-location", bytes.NewReader(body)).WithContext(reqCtx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.ElementsMatch(t, []string{"+17135550001", "+17135550002"}, calls.placed)
	// Shelter directions to each user plus one emergency contact each.
	assert.Len(t, texts.sent, 4)

	var res dispatch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Count)
	for _, u := range res.CalledUsers {
		assert.Equal(t, types.OutcomeSuccess, u.Result.Status, u.PhoneNumber)
		assert.Equal(t, "Lincoln High School", u.Result.ShelterLocation)
	}
}

func TestOrchestrate(t *testing.T) {
	s := newTestServer(t, stubClassifier{})

	w := s.do(http.MethodPost, "/api/redzone/orchestrate", map[string]string{"tweet_text": "Evacuations ordered in Paradise"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, true, out["inserted"])
	assert.Equal(t, false, out["alert_triggered"])
	assert.Equal(t, types.StateAlertSkipped, out["state"])

	agg, err := s.store.Get(context.Background(), "Paradise, CA")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 1, agg.TweetCount)
}

func TestCrisisMap(t *testing.T) {
	s := newTestServer(t, stubClassifier{})
	ctx := context.Background()
	seed := map[string]struct {
		score float64
		dt    types.DisasterType
		count int
	}{
		"Houston, TX": {0.86, types.Hurricane, 9},
		"Miami":       {0.65, types.Flood, 3},
		"Reno":        {0.2, types.Wildfire, 1},
	}
	for loc, v := range seed {
		v := v
		_, err := s.store.Update(ctx, loc, func(*types.LocationAggregate) types.LocationAggregate {
			return types.LocationAggregate{AggregateScore: v.score, DisasterType: v.dt, TweetCount: v.count}
		})
		require.NoError(t, err)
	}

	w := s.do(http.MethodGet, "/api/redzone/crisis-map/data?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Data []struct {
			Location string  `json:"location"`
			Score    float64 `json:"aggregate_score"`
			Severity string  `json:"severity"`
			Color    string  `json:"color"`
		} `json:"data"`
		Total int `json:"total_locations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	require.Len(t, data.Data, 2)
	assert.Equal(t, "Houston, TX", data.Data[0].Location)
	assert.InDelta(t, 86.0, data.Data[0].Score, 1e-9)
	assert.Equal(t, "high", data.Data[0].Severity)
	assert.Equal(t, "#ef4444", data.Data[0].Color)
	assert.Equal(t, "Miami", data.Data[1].Location)

	w = s.do(http.MethodGet, "/api/redzone/crisis-map/data?min_score=0.5&disaster_type=flood", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	require.Len(t, data.Data, 1)
	assert.Equal(t, "Miami", data.Data[0].Location)

	w = s.do(http.MethodGet, "/api/redzone/crisis-map/data?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/redzone/crisis-map/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary struct {
		Summary struct {
			TotalLocations int            `json:"total_locations"`
			DisasterTypes  []string       `json:"disaster_types"`
			ScoreRanges    map[string]int `json:"score_ranges"`
			TotalTweets    int            `json:"total_tweets"`
			Top            []interface{}  `json:"top_affected_locations"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Summary.TotalLocations)
	assert.Equal(t, 13, summary.Summary.TotalTweets)
	assert.Equal(t, map[string]int{"extreme": 1, "high": 1, "moderate": 0, "low": 1}, summary.Summary.ScoreRanges)
	assert.Len(t, summary.Summary.Top, 3)

	w = s.do(http.MethodGet, "/crisis-map/disaster-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"flood", "hurricane", "wildfire"}, decode(t, w)["disaster_types"])
}

func TestGeocodeLookup(t *testing.T) {
	s := newTestServer(t, stubClassifier{})
	ctx := context.Background()
	_, err := s.store.Update(ctx, "Houston", func(*types.LocationAggregate) types.LocationAggregate {
		return types.LocationAggregate{AggregateScore: 0.5, TweetCount: 1}
	})
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/redzone/crisis-map/geocode/Houston", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, s.store.SetGeocode(ctx, "Houston", types.GeoPoint{FormattedAddress: "Houston, TX, USA", Lat: 29.76, Lng: -95.37}))
	w = s.do(http.MethodGet, "/api/redzone/crisis-map/geocode/Houston", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "stored", out["source"])
	assert.Equal(t, "Houston, TX, USA", out["formatted_address"])
}
