// Package intent reads a resident's shelter and emergency contact wishes out
// of a finished call transcript.
package intent

import (
	"context"
	"log"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"go-redzone/types"
)

// Extractor never fails. An empty or unreadable transcript yields no shelter
// and an unknown contact preference.
type Extractor interface {
	Extract(ctx context.Context, transcript string) types.Intents
}

// Analyzer is a strategy that can report why it gave up.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (types.Intents, error)
}

// MapLink builds a Google Maps pin for the shelter, or "" when there is none.
func MapLink(shelter string) string {
	if strings.TrimSpace(shelter) == "" {
		return ""
	}
	return "https://maps.google.com/maps?q=" + url.QueryEscape(shelter) + "&t=m&z=15"
}

var titleCaser = cases.Title(language.English)

// NormalizeShelter collapses whitespace and title-cases the name.
func NormalizeShelter(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " .,;:!?\"'")
	if s == "" {
		return ""
	}
	return titleCaser.String(s)
}

// FallbackExtractor tries Primary and uses Fallback when Primary errors.
type FallbackExtractor struct {
	Primary  Analyzer
	Fallback Extractor
}

func (f *FallbackExtractor) Extract(ctx context.Context, transcript string) types.Intents {
	if strings.TrimSpace(transcript) == "" {
		return types.Intents{}
	}
	if f.Primary != nil {
		intents, err := f.Primary.Analyze(ctx, transcript)
		if err == nil {
			return intents
		}
		log.Printf("Intent: primary extractor failed, using fallback: %v", err)
	}
	if f.Fallback == nil {
		return types.Intents{}
	}
	return f.Fallback.Extract(ctx, transcript)
}
