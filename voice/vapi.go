package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-redzone/types"
)

const defaultVapiURL = "https://api.vapi.ai"

// VapiConfig identifies the assistant and the caller number to dial from.
type VapiConfig struct {
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	BaseURL       string
}

// Vapi talks to the Vapi REST API.
type Vapi struct {
	cfg    VapiConfig
	client *http.Client
}

var _ CallProvider = (*Vapi)(nil)

func NewVapi(cfg VapiConfig) (*Vapi, error) {
	if cfg.APIKey == "" || cfg.AssistantID == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("vapi: api key, assistant id and phone number id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultVapiURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Vapi{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

type createCallRequest struct {
	AssistantID        string             `json:"assistantId"`
	PhoneNumberID      string             `json:"phoneNumberId"`
	Customer           vapiCustomer       `json:"customer"`
	AssistantOverrides assistantOverrides `json:"assistantOverrides"`
}

type vapiCustomer struct {
	Number string `json:"number"`
}

type assistantOverrides struct {
	VariableValues map[string]string `json:"variableValues"`
}

type vapiCall struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
	// Newer API versions nest the transcript under artifact.
	Artifact struct {
		Transcript string `json:"transcript"`
	} `json:"artifact"`
	EndedReason string `json:"endedReason"`
}

func (v *Vapi) PlaceCall(ctx context.Context, phone string, cc types.CallContext) (string, error) {
	body, err := json.Marshal(createCallRequest{
		AssistantID:   v.cfg.AssistantID,
		PhoneNumberID: v.cfg.PhoneNumberID,
		Customer:      vapiCustomer{Number: phone},
		AssistantOverrides: assistantOverrides{VariableValues: map[string]string{
			"natural_disaster": string(cc.DisasterType),
			"location":         cc.Location,
		}},
	})
	if err != nil {
		return "", err
	}

	var call vapiCall
	if err := v.do(ctx, http.MethodPost, "/call", body, &call); err != nil {
		return "", fmt.Errorf("vapi create call: %w", err)
	}
	if call.ID == "" {
		return "", errors.New("vapi create call: response has no call id")
	}
	return call.ID, nil
}

func (v *Vapi) GetCallStatus(ctx context.Context, callID string) (types.CallStatus, error) {
	var call vapiCall
	if err := v.do(ctx, http.MethodGet, "/call/"+callID, nil, &call); err != nil {
		return types.CallStatus{}, fmt.Errorf("vapi get call: %w", err)
	}
	transcript := call.Transcript
	if transcript == "" {
		transcript = call.Artifact.Transcript
	}
	st := types.CallStatus{
		State:      MapStatus(call.Status),
		Transcript: transcript,
		Raw:        call.Status,
	}
	if st.State == types.CallCompleted && call.EndedReason != "" {
		st.Raw = call.Status + " (" + call.EndedReason + ")"
		if unanswered(call.EndedReason, transcript) {
			st.State = types.CallFailed
		}
	}
	return st, nil
}

// Vapi ends every call with status "ended"; these reasons mean nobody spoke
// with the assistant.
var noAnswerReasons = map[string]bool{
	"customer-did-not-answer":                     true,
	"customer-busy":                               true,
	"voicemail":                                   true,
	"customer-did-not-give-microphone-permission": true,
	"twilio-failed-to-connect-call":               true,
	"vonage-failed-to-connect-call":               true,
}

// unanswered reports whether an ended call can never produce a transcript.
// Error reasons only count when nothing was said before the failure.
func unanswered(reason, transcript string) bool {
	reason = strings.ToLower(reason)
	if noAnswerReasons[reason] {
		return true
	}
	if transcript != "" {
		return false
	}
	return strings.Contains(reason, "error") || strings.Contains(reason, "failed")
}

// MapStatus folds the provider's status strings into a CallState.
func MapStatus(status string) types.CallState {
	switch strings.ToLower(status) {
	case "completed", "ended", "finished":
		return types.CallCompleted
	case "failed", "error":
		return types.CallFailed
	case "queued", "scheduled", "":
		return types.CallQueued
	}
	return types.CallInProgress
}

func (v *Vapi) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, v.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
