package intent

import (
	"context"
	"regexp"
	"strings"

	"go-redzone/types"
)

var (
	contactMention = regexp.MustCompile(`(?i)\b(emergency contacts?|contacts?|notify|notified|family|loved ones|relatives)\b`)
	uncertain      = regexp.MustCompile(`(?i)\b(not sure|don'?t know|unsure|maybe|i guess)\b`)
	strongNegative = regexp.MustCompile(`(?i)\b(don'?t|do not|no thanks|no thank you|not necessary|no need|never mind)\b`)
	yesNo          = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|please|go ahead|absolutely|definitely|of course|okay|ok|no|nope|nah)\b`)
	speakerPrefix  = regexp.MustCompile(`(?i)^\s*(ai|assistant|agent|bot|user|customer|caller)\s*:\s*`)
	sentenceBreak  = regexp.MustCompile(`[.!?]+\s+`)

	// Shelter patterns in priority order. The first capture group is the place.
	shelterPatterns = []*regexp.Regexp{
		// A single capital followed by "." is an initial, as in "George R. Brown".
		regexp.MustCompile(`(?i)\bshelters?\s+(?:is\s+|are\s+)?(?:located\s+)?(?:at|on)\s+((?:(?-i:\b[A-Z]\.)|[^.,;!?\n])+)`),
		regexp.MustCompile(`(?i)\b(?:located at|address is)\s+([^.;!?\n]+)`),
		regexp.MustCompile(`\b((?:[A-Z0-9][\w'&-]*\s+){1,5}(?:Center|Centre|School|Park|Church|Stadium|Gym|Gymnasium|Hall|Arena|Shelter))\b`),
	}
	trailingFiller = regexp.MustCompile(`(?i)\s+(?:and|or|which|where|if|so|but|then)\b.*$`)
)

var assistantSpeakers = map[string]bool{"ai": true, "assistant": true, "agent": true, "bot": true}

type turn struct {
	assistant bool
	text      string
}

// PatternExtractor reads intents with regular expressions. It needs no
// network access.
type PatternExtractor struct{}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

func (p *PatternExtractor) Extract(ctx context.Context, transcript string) types.Intents {
	if strings.TrimSpace(transcript) == "" {
		return types.Intents{}
	}
	turns := splitTurns(transcript)
	return types.Intents{
		ShelterLocation:        findShelter(transcript),
		WantsEmergencyContacts: contactPreference(turns),
	}
}

func (p *PatternExtractor) Analyze(ctx context.Context, transcript string) (types.Intents, error) {
	return p.Extract(ctx, transcript), nil
}

// splitTurns breaks a transcript into speaker turns. A transcript on one line
// is split into sentences instead.
func splitTurns(transcript string) []turn {
	var units []string
	for _, line := range strings.Split(transcript, "\n") {
		if strings.TrimSpace(line) != "" {
			units = append(units, line)
		}
	}
	if len(units) == 1 {
		units = sentenceBreak.Split(units[0], -1)
	}

	turns := make([]turn, 0, len(units))
	for _, u := range units {
		t := turn{text: strings.TrimSpace(u)}
		if m := speakerPrefix.FindStringSubmatch(u); m != nil {
			t.assistant = assistantSpeakers[strings.ToLower(m[1])]
			t.text = strings.TrimSpace(u[len(m[0]):])
		}
		if t.text != "" {
			turns = append(turns, t)
		}
	}
	return turns
}

// contactPreference finds the first turn that mentions contacts and reads
// the answer from it or from the next resident turn.
func contactPreference(turns []turn) *bool {
	for i, t := range turns {
		if !contactMention.MatchString(t.text) {
			continue
		}
		if !t.assistant {
			if v := answer(t.text); v != nil {
				return v
			}
		}
		for j := i + 1; j < len(turns); j++ {
			if turns[j].assistant {
				continue
			}
			if v := answer(turns[j].text); v != nil {
				return v
			}
			break
		}
	}
	return nil
}

func answer(text string) *bool {
	if uncertain.MatchString(text) {
		return nil
	}
	if strongNegative.MatchString(text) {
		return boolPtr(false)
	}
	m := yesNo.FindString(text)
	if m == "" {
		return nil
	}
	switch strings.ToLower(m) {
	case "no", "nope", "nah":
		return boolPtr(false)
	}
	return boolPtr(true)
}

func findShelter(transcript string) string {
	for _, re := range shelterPatterns {
		m := re.FindStringSubmatch(transcript)
		if m == nil {
			continue
		}
		place := trailingFiller.ReplaceAllString(m[1], "")
		if place = NormalizeShelter(place); place != "" {
			return place
		}
	}
	return ""
}

func boolPtr(b bool) *bool {
	return &b
}
