package nlp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	language "cloud.google.com/go/language/apiv2"
	"cloud.google.com/go/language/apiv2/languagepb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// EntityAnalyzer is the part of *language.Client this package needs.
type EntityAnalyzer interface {
	AnalyzeEntities(ctx context.Context, req *languagepb.AnalyzeEntitiesRequest, opts ...gax.CallOption) (*languagepb.AnalyzeEntitiesResponse, error)
}

// Entity is a named entity found in a report. Probability is that of the
// most confident mention.
type Entity struct {
	Name        string
	Type        string
	Mentions    []string
	Probability float32
}

// AnalyzeEntities sends text to the Cloud Natural Language API to extract
// named entities.
func AnalyzeEntities(ctx context.Context, client EntityAnalyzer, text string) ([]Entity, error) {
	req := &languagepb.AnalyzeEntitiesRequest{
		Document: &languagepb.Document{
			Source: &languagepb.Document_Content{
				Content: text,
			},
			Type: languagepb.Document_PLAIN_TEXT,
		},
		EncodingType: languagepb.EncodingType_UTF8,
	}

	resp, err := client.AnalyzeEntities(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("AnalyzeEntities error: %w", err)
	}

	entities := make([]Entity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		ent := Entity{Name: e.Name, Type: e.Type.String()}
		for _, m := range e.Mentions {
			ent.Mentions = append(ent.Mentions, m.GetText().GetContent())
			if m.Probability > ent.Probability {
				ent.Probability = m.Probability
			}
		}
		entities = append(entities, ent)
	}
	return entities, nil
}

// FirstLocation returns the name of the first LOCATION or ADDRESS entity.
func FirstLocation(entities []Entity) string {
	for _, e := range entities {
		switch e.Type {
		case languagepb.Entity_LOCATION.String(), languagepb.Entity_ADDRESS.String():
			return e.Name
		}
	}
	return ""
}

// LocationResolver fills in a location when the classifier found none.
type LocationResolver struct {
	client EntityAnalyzer
}

func NewLocationResolver(client EntityAnalyzer) *LocationResolver {
	return &LocationResolver{client: client}
}

func (r *LocationResolver) ResolveLocation(ctx context.Context, text string) (string, error) {
	entities, err := AnalyzeEntities(ctx, r.client, text)
	if err != nil {
		return "", err
	}
	loc := FirstLocation(entities)
	if loc != "" {
		log.Printf("NLP: resolved location %q from entities", loc)
	}
	return loc, nil
}

// InitLanguageClient creates a language client from base64 encoded
// service account JSON.
func InitLanguageClient(ctx context.Context, encodedCreds string) (*language.Client, error) {
	creds, err := base64.StdEncoding.DecodeString(encodedCreds)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Natural Language credentials: %w", err)
	}

	client, err := language.NewClient(ctx, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Natural Language client: %w", err)
	}
	return client, nil
}
