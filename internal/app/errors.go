package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/container"
	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/internal/safety"
)

// Process exit codes. Hosts map the error from any App operation to
// one of these through ExitCode.
const (
	ExitOK        = 0
	ExitUser      = 1
	ExitSystem    = 2
	ExitCancelled = 130
)

// ErrSessionEnd is returned by ExecuteCommand when the user asks to
// leave. It is a clean stop, not a failure.
var ErrSessionEnd = errors.New("session ended")

// ErrorCategory groups user-facing failures by what the user can do
// about them.
type ErrorCategory string

const (
	CategoryConnection ErrorCategory = "connection"
	CategoryValidation ErrorCategory = "validation"
	CategorySystem     ErrorCategory = "system"
	CategoryPermission ErrorCategory = "permission"
)

// UserError is a failure the user can fix themselves. Message says
// what went wrong; Resolution says what to do about it. Hosts show
// both and nothing else, never a stack trace.
type UserError struct {
	Category   ErrorCategory
	Message    string
	Resolution string
	Err        error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error { return e.Err }

func userErr(cat ErrorCategory, msg, resolution string) *UserError {
	return &UserError{Category: cat, Message: msg, Resolution: resolution}
}

// ExitCode maps an error from ProcessLine or an executor to a process
// exit code. Cooperative cancellation is 130, anything the user can
// fix is 1, and everything else is 2.
func ExitCode(err error) int {
	switch {
	case err == nil || errors.Is(err, ErrSessionEnd):
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ExitUser
	}
	if errors.Is(err, safety.ErrApprovalDenied) || errors.Is(err, safety.ErrPathDenied) {
		return ExitUser
	}
	return ExitSystem
}

// Describe renders an error for the user: a short message plus an
// actionable resolution when one is known. The resolution is empty
// when there is nothing useful to suggest.
func Describe(err error) (msg, resolution string) {
	if err == nil {
		return "", ""
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message, ue.Resolution
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled", ""
	}
	if errors.Is(err, router.ErrNoProviderAvailable) {
		return "no model provider available",
			"enable a provider in the config file or start the local model server"
	}
	if errors.Is(err, safety.ErrApprovalDenied) {
		return "operation not approved",
			"run the operation again and approve it when prompted"
	}
	if errors.Is(err, safety.ErrPathDenied) {
		return "path not permitted by safety policy",
			"target a path inside the workspace, or adjust safety.allowed_paths"
	}
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		return describeProvider(pe)
	}
	var ce *container.ServiceConstructionError
	if errors.As(err, &ce) {
		return fmt.Sprintf("could not start the %s service", ce.Service),
			"check the configuration and logs, then restart"
	}
	return err.Error(), ""
}

func describeProvider(pe *providers.ProviderError) (string, string) {
	msg := fmt.Sprintf("%s request failed", pe.Provider)
	if pe.Message != "" {
		msg = fmt.Sprintf("%s: %s", pe.Provider, pe.Message)
	}
	switch pe.Kind {
	case providers.KindConnection:
		if pe.Provider == "local" {
			return msg, "make sure the local model server is running (ollama serve)"
		}
		return msg, "check network access and the provider endpoint"
	case providers.KindAuthentication:
		return msg, "check the provider API key in the config or environment"
	case providers.KindModelUnavailable:
		return msg, "pull the model or select another with --model"
	case providers.KindRateLimit:
		return msg, "wait a moment and retry, or switch providers"
	case providers.KindTimeout:
		return msg, "retry, or raise the provider request_timeout"
	case providers.KindInvalidRequest:
		if strings.Contains(strings.ToLower(pe.Message), "context") {
			return msg, "shorten the input or switch to a larger-context model"
		}
		return msg, ""
	default:
		return msg, ""
	}
}
