package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"go-redzone/llm"
	"go-redzone/types"
)

// DefaultTimeout bounds one classification call end to end.
const DefaultTimeout = 60 * time.Second

// Classifier turns a report into structured crisis labels.
type Classifier interface {
	Classify(ctx context.Context, in Input) (types.ClassifiedReport, error)
}

// LocationResolver finds a place name in free text. It returns "" when none is found.
type LocationResolver interface {
	ResolveLocation(ctx context.Context, text string) (string, error)
}

const systemPrompt = `You are an expert crisis analyst. You label social media reports about disasters.
Answer with a single JSON object and nothing else.`

const userPromptTemplate = `Classify the report below using its text and the attached image, if any.

disaster_type: exactly one of fire, earthquake, hurricane, flood, tornado, wildfire, explosion, building_collapse, other_disaster, not_disaster
informativeness: informative or not_informative, judged from text and image together
humanitarian_categories: every tag that applies from casualties (injured or dead people), missing_persons, displaced_people (evacuations, affected people), infrastructure_damage (buildings, roads, utilities), vehicle_damage, rescue_operations, donations_aid, emergency_services (police, fire, medical response), public_safety (warnings, advisories); use ["none"] if nothing applies
location: the most specific place named (city, state or landmark), or "no_location_identified"
damage_severity: severe_damage, mild_damage, little_or_no_damage or cannot_assess (prefer the image when present)
seriousness_score: number from 0.0 (not serious) to 1.0 (extremely serious)

Return JSON with exactly these keys:
{"disaster_type": "", "informativeness": "", "humanitarian_categories": [], "location": "", "damage_severity": "", "seriousness_score": 0.0}

Report text: %s
Image URL: %s`

// LLMClassifier asks a chat model for the labels.
type LLMClassifier struct {
	llm        llm.Client
	httpClient *http.Client
	locations  LocationResolver
}

// NewLLMClassifier builds a classifier. locations may be nil.
func NewLLMClassifier(client llm.Client, locations LocationResolver) *LLMClassifier {
	return &LLMClassifier{
		llm:        client,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		locations:  locations,
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, in Input) (types.ClassifiedReport, error) {
	if in.Text == "" && !in.HasImage() {
		return types.ClassifiedReport{}, ErrEmptyInput
	}

	img := in.Image
	if img == nil && in.ImageURL != "" {
		fetched, err := c.fetchImage(ctx, in.ImageURL)
		if err != nil {
			// The text alone is still worth classifying.
			log.Printf("Classifier: could not fetch image %s: %v", in.ImageURL, err)
		}
		img = fetched
	}
	if in.Text == "" && img == nil {
		return types.ClassifiedReport{}, ErrEmptyInput
	}

	prompt := llm.Prompt{
		System: systemPrompt,
		User:   fmt.Sprintf(userPromptTemplate, in.Text, in.ImageURL),
		JSON:   true,
	}
	if img != nil {
		prompt.Image = &llm.Image{MediaType: img.MediaType, Base64: img.Base64()}
	}

	raw, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		return types.ClassifiedReport{}, fmt.Errorf("classification failed: %w", err)
	}
	report, err := ParseLabels(raw)
	if err != nil {
		return types.ClassifiedReport{}, err
	}

	report.TweetText = in.Text
	report.ImageURL = in.ImageURL
	report.Timestamp = in.Timestamp
	report = report.Normalize()

	if !report.HasLocation() && c.locations != nil && in.Text != "" {
		loc, err := c.locations.ResolveLocation(ctx, in.Text)
		if err != nil {
			log.Printf("Classifier: location fallback failed: %v", err)
		} else if loc != "" {
			report.Location = loc
		}
	}
	return report, nil
}

// ParseLabels decodes the model's JSON answer. A missing seriousness score
// stays at zero and missing enums are normalized later.
func ParseLabels(raw string) (types.ClassifiedReport, error) {
	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return types.ClassifiedReport{}, fmt.Errorf("classification failed: %w", err)
	}

	var labels struct {
		DisasterType           string      `json:"disaster_type"`
		Informativeness        string      `json:"informativeness"`
		HumanitarianCategories []string    `json:"humanitarian_categories"`
		Location               string      `json:"location"`
		DamageSeverity         string      `json:"damage_severity"`
		SeriousnessScore       json.Number `json:"seriousness_score"`
	}
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&labels); err != nil {
		return types.ClassifiedReport{}, fmt.Errorf("classification failed: invalid JSON from model: %w", err)
	}

	score, _ := labels.SeriousnessScore.Float64()
	return types.ClassifiedReport{
		DisasterType:           types.DisasterType(labels.DisasterType),
		Informativeness:        labels.Informativeness,
		HumanitarianCategories: labels.HumanitarianCategories,
		Location:               labels.Location,
		DamageSeverity:         labels.DamageSeverity,
		SeriousnessScore:       score,
	}, nil
}

func (c *LLMClassifier) fetchImage(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	if !isImage(data) {
		return nil, ErrBadImage
	}
	return &Image{MediaType: sniffImage(data, resp.Header.Get("Content-Type")), Data: data}, nil
}
