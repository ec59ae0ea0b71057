package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"go-redzone/llm"
	"go-redzone/types"
)

const intentSystemPrompt = `You are an expert assistant reviewing emergency call transcripts.`

const intentUserPrompt = `Given the following emergency call transcript, extract:
1. The most likely shelter location mentioned by the user or the AI (empty string if none).
2. Whether the user wants their emergency contacts notified (true, false or "unknown").

Return ONLY a valid JSON object with these exact keys:
{"shelter_location": "...", "wants_emergency_contacts": true}

Transcript:
%s`

// LLMExtractor asks a chat model for the intents.
type LLMExtractor struct {
	llm llm.Client
}

func NewLLMExtractor(client llm.Client) *LLMExtractor {
	return &LLMExtractor{llm: client}
}

func (e *LLMExtractor) Analyze(ctx context.Context, transcript string) (types.Intents, error) {
	if strings.TrimSpace(transcript) == "" {
		return types.Intents{}, nil
	}

	raw, err := e.llm.Complete(ctx, llm.Prompt{
		System:    intentSystemPrompt,
		User:      fmt.Sprintf(intentUserPrompt, transcript),
		JSON:      true,
		MaxTokens: 200,
	})
	if err != nil {
		return types.Intents{}, fmt.Errorf("intent extraction failed: %w", err)
	}
	return parseIntents(raw)
}

func (e *LLMExtractor) Extract(ctx context.Context, transcript string) types.Intents {
	intents, err := e.Analyze(ctx, transcript)
	if err != nil {
		log.Printf("Intent: %v", err)
		return types.Intents{}
	}
	return intents
}

func parseIntents(raw string) (types.Intents, error) {
	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return types.Intents{}, fmt.Errorf("intent extraction failed: %w", err)
	}

	var out struct {
		ShelterLocation        *string         `json:"shelter_location"`
		WantsEmergencyContacts json.RawMessage `json:"wants_emergency_contacts"`
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return types.Intents{}, fmt.Errorf("intent extraction failed: %w", err)
	}

	var intents types.Intents
	if out.ShelterLocation != nil {
		intents.ShelterLocation = NormalizeShelter(*out.ShelterLocation)
	}
	intents.WantsEmergencyContacts = parseTriState(out.WantsEmergencyContacts)
	return intents, nil
}

// parseTriState accepts true/false as JSON booleans or strings. Anything else
// is unknown.
func parseTriState(raw json.RawMessage) *bool {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return boolPtr(b)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return boolPtr(true)
		case "false", "no":
			return boolPtr(false)
		}
	}
	return nil
}
