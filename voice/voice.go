// Package voice places automated emergency calls.
package voice

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"go-redzone/types"
)

// CallProvider places an outbound call and reports its progress.
type CallProvider interface {
	PlaceCall(ctx context.Context, phone string, cc types.CallContext) (string, error)
	GetCallStatus(ctx context.Context, callID string) (types.CallStatus, error)
}

// Simulated stands in when no voice provider is configured. Calls complete
// immediately without a transcript.
type Simulated struct {
	mu    sync.Mutex
	calls map[string]string
}

func NewSimulated() *Simulated {
	return &Simulated{calls: make(map[string]string)}
}

func (s *Simulated) PlaceCall(ctx context.Context, phone string, cc types.CallContext) (string, error) {
	id := "sim-" + uuid.NewString()
	s.mu.Lock()
	s.calls[id] = phone
	s.mu.Unlock()
	log.Printf("Voice: simulated call %s to %s about %s in %s", id, phone, cc.DisasterType, cc.Location)
	return id, nil
}

func (s *Simulated) GetCallStatus(ctx context.Context, callID string) (types.CallStatus, error) {
	s.mu.Lock()
	_, ok := s.calls[callID]
	s.mu.Unlock()
	if !ok {
		return types.CallStatus{}, fmt.Errorf("simulated call %s not found", callID)
	}
	return types.CallStatus{State: types.CallCompleted, Raw: "simulated"}, nil
}

// IsSimulated reports whether p places no real calls.
func IsSimulated(p CallProvider) bool {
	_, ok := p.(*Simulated)
	return ok
}
