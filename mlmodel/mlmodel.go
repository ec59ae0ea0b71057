// Package mlmodel classifies reports with a self-hosted model served over HTTP.
package mlmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-redzone/classifier"
	"go-redzone/types"
)

// MLRequest is the body the model service expects.
type MLRequest struct {
	TweetText string `json:"tweet_text"`
	ImageURL  string `json:"image_url,omitempty"`
	ImageData string `json:"image_data,omitempty"`
}

// MLResponse carries the labels, plus per-label probabilities when the
// service reports them.
type MLResponse struct {
	DisasterType           string               `json:"disaster_type"`
	Informativeness        string               `json:"informativeness"`
	HumanitarianCategories []string             `json:"humanitarian_categories"`
	Location               string               `json:"location"`
	DamageSeverity         string               `json:"damage_severity"`
	SeriousnessScore       float64              `json:"seriousness_score"`
	Probabilities          map[string][]float64 `json:"probabilities,omitempty"`
}

// Client is a classifier.Classifier backed by the model service.
type Client struct {
	url        string
	httpClient *http.Client
}

func New(url string) *Client {
	return &Client{url: url, httpClient: &http.Client{Timeout: classifier.DefaultTimeout}}
}

func (c *Client) CallModel(ctx context.Context, inputs MLRequest) (MLResponse, error) {
	var mlResp MLResponse

	payloadBytes, err := json.Marshal(inputs)
	if err != nil {
		return mlResp, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return mlResp, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mlResp, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mlResp, errors.New("ML model returned status: " + resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&mlResp); err != nil {
		return mlResp, err
	}
	return mlResp, nil
}

func (c *Client) Classify(ctx context.Context, in classifier.Input) (types.ClassifiedReport, error) {
	if in.Text == "" && !in.HasImage() {
		return types.ClassifiedReport{}, classifier.ErrEmptyInput
	}

	req := MLRequest{TweetText: in.Text, ImageURL: in.ImageURL}
	if in.Image != nil {
		req.ImageData = in.Image.DataURI()
	}

	out, err := c.CallModel(ctx, req)
	if err != nil {
		return types.ClassifiedReport{}, fmt.Errorf("classification failed: %w", err)
	}

	report := types.ClassifiedReport{
		DisasterType:           types.DisasterType(out.DisasterType),
		Informativeness:        out.Informativeness,
		HumanitarianCategories: out.HumanitarianCategories,
		Location:               out.Location,
		DamageSeverity:         out.DamageSeverity,
		SeriousnessScore:       out.SeriousnessScore,
		TweetText:              in.Text,
		ImageURL:               in.ImageURL,
		Timestamp:              in.Timestamp,
	}
	return report.Normalize(), nil
}

// Ping checks the service answers at all. Used at startup.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return errors.New("ML model returned status: " + resp.Status)
	}
	return nil
}
