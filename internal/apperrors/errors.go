package apperrors

import (
	"errors"
	"fmt"
)

// Reason classifies why a request was refused. Every reason except
// ReasonMaintenance is scoped to one identity or credential.
type Reason string

const (
	ReasonMaintenance     Reason = "maintenance"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonSessionExpired  Reason = "session_expired"
	ReasonPasswordExpired Reason = "password_expired"
	ReasonStepUpRequired  Reason = "step_up_required"
	ReasonForbiddenRole   Reason = "forbidden_role"
)

var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrAlreadyRunning = errors.New("archival run already in progress")
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("backing store not configured")
)

// Rejection is a client-facing authorization refusal.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func Reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

func Unauthenticated(message string) *Rejection {
	return Reject(ReasonUnauthenticated, message)
}

// AsRejection unwraps err to a Rejection if it carries one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsReason reports whether err is a Rejection with the given reason.
func IsReason(err error, reason Reason) bool {
	r, ok := AsRejection(err)
	return ok && r.Reason == reason
}

// ConfigError is an internal failure caused by missing or invalid
// deployment configuration. Setting must name the variable, never its value.
type ConfigError struct {
	Setting string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("server misconfigured: %s is not set", e.Setting)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
