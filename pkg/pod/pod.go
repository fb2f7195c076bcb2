// Package pod keeps the state of one paired pod and drives it through a
// Session: commands are built from the state, exchanged over a Transport and
// the decoded replies are folded back into the state.
package pod

import (
	"context"
	"errors"
	"fmt"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/message"
	"github.com/avereha/podcomm/pkg/response"
)

var (
	// ErrPodFaulted is returned before anything is sent when a faulted pod
	// is asked for anything but status, fault configuration or
	// deactivation.
	ErrPodFaulted = errors.New("pod is faulted")
	// ErrSessionBusy is returned when a second command is started while one
	// is still waiting for its reply.
	ErrSessionBusy = errors.New("session is busy")
	// ErrNoPod is returned when the session has no pod state.
	ErrNoPod = errors.New("no active pod")
	// ErrInvalidCommand wraps errors building a command from its arguments.
	ErrInvalidCommand = errors.New("invalid command")

	ErrBolusInProgress     = errors.New("bolus in progress")
	ErrTempBasalInProgress = errors.New("temp basal in progress")
	ErrDoseFinalized       = errors.New("dose is finalized")
)

// NonceResyncError is returned when the pod rejects the nonce of a command
// that was already retried with a resynced nonce.
type NonceResyncError struct {
	SyncWord uint16
}

func (e *NonceResyncError) Error() string {
	return fmt.Sprintf("nonce rejected again after resync, sync word 0x%04x", e.SyncWord)
}

// PodError is a command the pod rejected with an ErrorResponse.
type PodError struct {
	Response *response.ErrorResponse
}

func (e *PodError) Error() string {
	return fmt.Sprintf("pod rejected command: %s", e.Response)
}

// UnexpectedResponseError is returned when the reply does not carry the
// block the command calls for.
type UnexpectedResponseError struct {
	Want block.Type
	Got  block.Type
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
}

// IsRetryable reports whether the command that returned err failed without a
// decoded reply, so sending it again is safe. Decode, protocol, device and
// fault errors are not, nor are malformed alert or basal configurations.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var (
		parseErr    *block.ParseError
		unknownErr  *block.UnknownBlockTypeError
		resyncErr   *NonceResyncError
		podErr      *PodError
		responseErr *UnexpectedResponseError
	)
	switch {
	case errors.Is(err, ErrPodFaulted),
		errors.Is(err, ErrSessionBusy),
		errors.Is(err, ErrNoPod),
		errors.Is(err, ErrInvalidCommand),
		errors.Is(err, ErrDoseFinalized),
		errors.Is(err, ErrBolusInProgress),
		errors.Is(err, ErrTempBasalInProgress),
		errors.Is(err, block.ErrNotEnoughData),
		errors.Is(err, message.ErrInvalidCRC),
		errors.Is(err, alert.ErrInvalidSlot),
		errors.Is(err, alert.ErrInvalidDuration),
		errors.Is(err, alert.ErrInvalidBeep),
		errors.Is(err, alert.ErrMissingTrigger),
		errors.Is(err, basal.ErrTooManyEntries),
		errors.Is(err, basal.ErrEmptySchedule),
		errors.Is(err, basal.ErrInvalidSchedule),
		errors.As(err, &parseErr),
		errors.As(err, &unknownErr),
		errors.As(err, &resyncErr),
		errors.As(err, &podErr),
		errors.As(err, &responseErr):
		return false
	}
	return true
}
