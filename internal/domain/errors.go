package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrDataUnavailable       = errors.New("postcode data unavailable")
	ErrDataCorrupt           = errors.New("postcode data corrupt")
	ErrDataMissing           = errors.New("postcode data missing")
	ErrPostcodeNotFound      = errors.New("postcode not found")
	ErrService               = errors.New("weather service error")
	ErrConnectivity          = errors.New("weather service unreachable")
	ErrInsufficientData      = errors.New("insufficient weather data")
	ErrUnexpected            = errors.New("unexpected error")
	ErrCalculationInProgress = errors.New("calculation already in progress")
)

// User-facing messages.
const (
	MsgInvalidPostcode       = "Please enter a valid 4-digit postcode."
	MsgDownloadFailed        = "Could not load location data. Please try again later."
	MsgDataMissing           = "Location data is missing. App may not function correctly."
	MsgDataCorrupt           = "Location data is corrupted. Please contact support."
	MsgDataReadFailed        = "Failed to load location data. Please refresh."
	MsgIndexNotLoaded        = "Location data not loaded. Cannot find postcode."
	MsgPostcodeNotFound      = "Postcode not found. Please enter a valid Australian postcode."
	MsgConnectivity          = "Could not connect to the weather service. Check your internet connection."
	MsgInsufficientData      = "Incomplete weather data received. Cannot perform calculation."
	MsgCalculationInProgress = "A calculation is already running. Please wait for it to finish."
)

// UserError pairs an error kind with the message shown to the user.
type UserError struct {
	Kind    error
	Message string
	Err     error
}

// NewUserError builds a UserError. cause may be nil.
func NewUserError(kind error, message string, cause error) *UserError {
	return &UserError{Kind: kind, Message: message, Err: cause}
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *UserError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ServiceError reports a non-2xx response from the weather provider.
type ServiceError struct {
	StatusCode int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("weather service returned status %d", e.StatusCode)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}

// UserMessage returns the text to show for err. Errors that carry no
// user-facing message are reported as unexpected.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var svc *ServiceError
	if errors.As(err, &svc) {
		return fmt.Sprintf("Weather service error: %d. Please try again later.", svc.StatusCode)
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return UnexpectedMessage(err)
}

// UnexpectedMessage formats the catch-all message for err.
func UnexpectedMessage(err error) string {
	return fmt.Sprintf("An unexpected error occurred: %v", err)
}
