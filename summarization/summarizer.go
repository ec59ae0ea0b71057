package summarization

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go-redzone/db"
	"go-redzone/llm"
)

const maxReportsForSummary = 69
const maxPromptLength = 15000 // Rough character limit for prompt

// Summarizer condenses a location's recent reports with a chat model.
type Summarizer struct {
	reports db.ReportStore
	llm     llm.Client
}

func New(reports db.ReportStore, client llm.Client) *Summarizer {
	return &Summarizer{reports: reports, llm: client}
}

// Summarize returns "" without calling the model when the location has no
// stored reports.
func (s *Summarizer) Summarize(ctx context.Context, location string) (string, error) {
	reportText, disasterType, err := s.fetchReports(ctx, location)
	if err != nil {
		return "", err
	}
	if reportText == "" {
		log.Printf("Summarizer: no reports stored for %s, skipping summary", location)
		return "", nil
	}

	prompt := fmt.Sprintf("Summarize the following collection of social media posts related to a potential %s event in %s. Focus on the key impacts, locations mentioned, and overall situation described. If a post feels incongruent to the disaster type or location, disregard it. Provide a concise summary (2-3 sentences maximum):\n\n---\n%s\n---\n\nSummary:", disasterType, location, reportText)

	out, err := s.llm.Complete(ctx, llm.Prompt{
		System:    "You are an assistant that summarizes social media posts about potential disaster events concisely.",
		User:      prompt,
		MaxTokens: 150,
	})
	if err != nil {
		return "", fmt.Errorf("summary for %s: %w", location, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("summary for %s: model returned an empty response", location)
	}
	return out, nil
}

// fetchReports joins the newest report texts for location and returns the
// most recent disaster type among them.
func (s *Summarizer) fetchReports(ctx context.Context, location string) (string, string, error) {
	reports, err := s.reports.ListByLocation(ctx, location, maxReportsForSummary)
	if err != nil {
		return "", "", fmt.Errorf("error fetching reports for %s: %w", location, err)
	}

	var texts []string
	disasterType := "disaster"
	for _, r := range reports {
		if r.TweetText == "" {
			continue
		}
		if len(texts) == 0 && r.DisasterType != "" {
			disasterType = string(r.DisasterType)
		}
		texts = append(texts, r.TweetText)
	}
	if len(texts) == 0 {
		return "", disasterType, nil
	}

	combined := strings.Join(texts, "\n---\n")
	if len(combined) > maxPromptLength {
		log.Printf("Summarizer: report text for %s exceeds max length (%d), truncating.", location, maxPromptLength)
		combined = combined[:maxPromptLength]
	}
	return combined, disasterType, nil
}
