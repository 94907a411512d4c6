// Package terminal defines the interface the assistant core uses to
// talk to whatever front end hosts it. The core never prints
// directly; hosts implement Terminal and own presentation.
package terminal

import "context"

// Terminal is the host-provided I/O surface. Implementations must be
// safe for use from the single logical task driving a user turn;
// Confirm and Ask block until the user answers or ctx is done.
type Terminal interface {
	// Print writes a complete line of output.
	Print(text string)
	// Stream writes one streaming delta without a trailing newline.
	Stream(delta string)
	// Confirm asks a yes/no question. A ctx cancellation resolves as
	// (false, ctx.Err()).
	Confirm(ctx context.Context, prompt string) (bool, error)
	// Ask poses a free-form question, optionally with fixed options.
	Ask(ctx context.Context, question string, options []string) (string, error)
}
