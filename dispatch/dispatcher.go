// Package dispatch calls every resident registered at an alerted location
// and follows up by SMS.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"go-redzone/db"
	"go-redzone/intent"
	"go-redzone/sms"
	"go-redzone/types"
	"go-redzone/voice"
)

const (
	StatusCompleted = "completed"
	StatusNoUsers   = "no_users_found"
)

// DefaultCallTimeout bounds the wait for one call to finish.
const DefaultCallTimeout = 10 * time.Minute

var errCallTimeout = errors.New("call did not finish before the deadline")

type UserResult struct {
	PhoneNumber string                     `json:"phone_number"`
	Address     string                     `json:"address"`
	Result      types.EmergencyCallOutcome `json:"result"`
}

type Result struct {
	Status      string       `json:"status"`
	CalledUsers []UserResult `json:"called_users"`
	Count       int          `json:"count"`
}

// Options tune pacing and polling. Zero values take the defaults.
type Options struct {
	CallsPerSecond float64
	SMSPerSecond   float64
	// InProgressPoll is the poll interval while the call is live.
	InProgressPoll time.Duration
	// TranscriptPoll is the poll interval once the call ended but the
	// transcript is not ready.
	TranscriptPoll time.Duration
}

func (o Options) withDefaults() Options {
	if o.CallsPerSecond <= 0 {
		o.CallsPerSecond = 1
	}
	if o.SMSPerSecond <= 0 {
		o.SMSPerSecond = 5
	}
	if o.InProgressPoll <= 0 {
		o.InProgressPoll = 15 * time.Second
	}
	if o.TranscriptPoll <= 0 {
		o.TranscriptPoll = 5 * time.Second
	}
	return o
}

type Dispatcher struct {
	users   db.UserDirectory
	calls   voice.CallProvider
	texts   sms.Provider
	intents intent.Extractor
	opts    Options

	callLimiter *rate.Limiter
	smsLimiter  *rate.Limiter
}

func NewDispatcher(users db.UserDirectory, calls voice.CallProvider, texts sms.Provider, intents intent.Extractor, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		users:       users,
		calls:       calls,
		texts:       texts,
		intents:     intents,
		opts:        opts,
		callLimiter: rate.NewLimiter(rate.Limit(opts.CallsPerSecond), 1),
		smsLimiter:  rate.NewLimiter(rate.Limit(opts.SMSPerSecond), 1),
	}
}

// DispatchLocationAlert calls each user registered at location, one after
// another. A failed call is recorded and the batch moves on.
func (d *Dispatcher) DispatchLocationAlert(ctx context.Context, location string, disasterType types.DisasterType, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	users, err := d.users.FindByExactAddress(ctx, location)
	if err != nil {
		return Result{}, fmt.Errorf("error finding users at %s: %w", location, err)
	}
	if len(users) == 0 {
		log.Printf("Dispatcher: no users registered at %s", location)
		return Result{Status: StatusNoUsers, CalledUsers: []UserResult{}}, nil
	}

	log.Printf("Dispatcher: calling %d users at %s about %s", len(users), location, disasterType)
	results := make([]UserResult, 0, len(users))
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return Result{Status: StatusCompleted, CalledUsers: results, Count: len(results)}, err
		}
		outcome := d.notifyUser(ctx, u, location, disasterType, timeout)
		log.Printf("Dispatcher: %s -> %s", u.PhoneNumber, outcome.Status)
		results = append(results, UserResult{
			PhoneNumber: u.PhoneNumber,
			Address:     u.Address,
			Result:      outcome,
		})
	}

	return Result{Status: StatusCompleted, CalledUsers: results, Count: len(results)}, nil
}

func (d *Dispatcher) notifyUser(ctx context.Context, u types.User, location string, disasterType types.DisasterType, timeout time.Duration) types.EmergencyCallOutcome {
	outcome := types.EmergencyCallOutcome{Status: types.OutcomeFailed}

	if err := d.callLimiter.Wait(ctx); err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	callID, err := d.calls.PlaceCall(ctx, u.PhoneNumber, types.CallContext{DisasterType: disasterType, Location: location})
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.CallID = callID

	if voice.IsSimulated(d.calls) {
		outcome.Status = types.OutcomeSimulated
		return outcome
	}

	st, err := d.waitForCall(ctx, callID, timeout)
	switch {
	case st.State == types.CallFailed:
		outcome.Error = "call ended with status " + st.Raw
		return outcome
	case st.Transcript != "":
		// A transcript may arrive with the final check after the deadline.
	case errors.Is(err, errCallTimeout) && st.State == types.CallCompleted:
		outcome.Status = types.OutcomeNoTranscript
		return outcome
	case errors.Is(err, errCallTimeout):
		outcome.Status = types.OutcomeTimeout
		outcome.Error = err.Error()
		return outcome
	case err != nil:
		outcome.Error = err.Error()
		return outcome
	}

	intents := d.intents.Extract(ctx, st.Transcript)
	outcome.Status = types.OutcomeSuccess
	outcome.ShelterLocation = intents.ShelterLocation
	outcome.WantsEmergencyContacts = intents.WantsEmergencyContacts
	outcome.WantsShelterDirections = intents.WantsShelterDirections()
	outcome.MapLink = intent.MapLink(intents.ShelterLocation)

	var smsErrs []string
	if outcome.WantsShelterDirections {
		msg := fmt.Sprintf("RedZone alert: %s in %s. Nearest shelter: %s. Directions: %s",
			disasterType, location, outcome.ShelterLocation, outcome.MapLink)
		if err := d.send(ctx, u.PhoneNumber, msg); err != nil {
			smsErrs = append(smsErrs, err.Error())
		} else {
			outcome.SMSSent++
		}
	}

	if intents.WantsEmergencyContacts != nil && *intents.WantsEmergencyContacts {
		contacts, err := d.users.GetEmergencyContacts(ctx, u.PhoneNumber)
		if err != nil {
			smsErrs = append(smsErrs, err.Error())
		}
		msg := contactMessage(u.PhoneNumber, location, disasterType, outcome.ShelterLocation, outcome.MapLink)
		for _, c := range contacts {
			if err := d.send(ctx, c, msg); err != nil {
				smsErrs = append(smsErrs, err.Error())
				continue
			}
			outcome.SMSSent++
		}
	}

	if len(smsErrs) > 0 {
		outcome.Error = "sms: " + strings.Join(smsErrs, "; ")
	}
	return outcome
}

func contactMessage(phone, location string, disasterType types.DisasterType, shelter, link string) string {
	msg := fmt.Sprintf("RedZone alert: %s was reached about the %s in %s and asked us to let you know.",
		phone, disasterType, location)
	if shelter != "" {
		msg += fmt.Sprintf(" They are heading to %s: %s", shelter, link)
	}
	return msg
}

func (d *Dispatcher) send(ctx context.Context, phone, message string) error {
	if err := d.smsLimiter.Wait(ctx); err != nil {
		return err
	}
	if err := d.texts.Send(ctx, phone, message); err != nil {
		return fmt.Errorf("to %s: %w", phone, err)
	}
	return nil
}

// waitForCall polls until the call fails or produces a transcript. When the
// deadline passes it checks once more and returns errCallTimeout together
// with the latest status it saw.
func (d *Dispatcher) waitForCall(ctx context.Context, callID string, timeout time.Duration) (types.CallStatus, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var last types.CallStatus
	for {
		interval := d.opts.InProgressPoll
		st, err := d.calls.GetCallStatus(ctx, callID)
		if err != nil {
			log.Printf("Dispatcher: error checking call %s: %v", callID, err)
		} else {
			last = merge(last, st)
			if last.State == types.CallFailed || (last.State == types.CallCompleted && last.Transcript != "") {
				return last, nil
			}
			if last.State == types.CallCompleted {
				interval = d.opts.TranscriptPoll
			}
		}

		tick := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			tick.Stop()
			return last, ctx.Err()
		case <-deadline.C:
			tick.Stop()
			if st, err := d.calls.GetCallStatus(ctx, callID); err == nil {
				last = merge(last, st)
			}
			if last.State == types.CallFailed {
				return last, nil
			}
			return last, errCallTimeout
		case <-tick.C:
		}
	}
}

// merge keeps a transcript already seen when a later poll omits it.
func merge(prev, next types.CallStatus) types.CallStatus {
	if next.Transcript == "" {
		next.Transcript = prev.Transcript
	}
	return next
}
