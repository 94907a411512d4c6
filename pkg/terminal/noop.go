package terminal

import "context"

// Noop is a Terminal that swallows output and answers every prompt
// with a fixed decision. Used in tests and headless runs.
type Noop struct {
	// ConfirmAnswer is returned by Confirm when ctx is live.
	ConfirmAnswer bool
	// AskAnswer is returned by Ask when ctx is live.
	AskAnswer string
}

var _ Terminal = (*Noop)(nil)

func (n *Noop) Print(string)  {}
func (n *Noop) Stream(string) {}

func (n *Noop) Confirm(ctx context.Context, _ string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
		return n.ConfirmAnswer, nil
	}
}

func (n *Noop) Ask(ctx context.Context, _ string, _ []string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return n.AskAnswer, nil
	}
}
