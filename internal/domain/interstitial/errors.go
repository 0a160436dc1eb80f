package interstitial

import (
	"errors"
	"fmt"
)

// Domain errors for the interstitial coordinator
var (
	ErrOperationInProgress = errors.New("an interstitial ad operation is already in progress")
	ErrAdAlreadyShowing    = errors.New("an interstitial ad is already being shown")
	ErrAdNotReady          = errors.New("no preloaded interstitial ad is available for this placement")
	ErrAdLoadFailed        = errors.New("interstitial ad failed to load")
	ErrHostDestroyed       = errors.New("host was destroyed before the interstitial operation completed")
	ErrInvalidPlacement    = errors.New("placement ID must be a non-empty string of at most 128 characters")
)

// Error codes reported to callers
const (
	CodeOperationInProgress = "E_OPERATION_IN_PROGRESS"
	CodeAdAlreadyShowing    = "E_AD_ALREADY_SHOWING"
	CodeAdNotReady          = "E_AD_NOT_READY"
	CodeLoadFailed          = "E_FAILED_TO_LOAD"
	CodeHostDestroyed       = "E_DESTROYED"
	CodeInvalidPlacement    = "E_INVALID_PLACEMENT"
	CodeUnknown             = "E_UNKNOWN"
)

// LoadError carries the provider's load failure message verbatim
type LoadError struct {
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAdLoadFailed.Error(), e.Message)
}

// Is reports LoadError as ErrAdLoadFailed
func (e *LoadError) Is(target error) bool {
	return target == ErrAdLoadFailed
}

// Code maps an error to its stable caller-facing code.
// A nil error has no code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOperationInProgress):
		return CodeOperationInProgress
	case errors.Is(err, ErrAdAlreadyShowing):
		return CodeAdAlreadyShowing
	case errors.Is(err, ErrAdNotReady):
		return CodeAdNotReady
	case errors.Is(err, ErrAdLoadFailed):
		return CodeLoadFailed
	case errors.Is(err, ErrHostDestroyed):
		return CodeHostDestroyed
	case errors.Is(err, ErrInvalidPlacement):
		return CodeInvalidPlacement
	default:
		return CodeUnknown
	}
}
