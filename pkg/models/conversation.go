package models

import "time"

// TurnOutcome records how a conversation turn ended.
type TurnOutcome string

const (
	OutcomeSuccess TurnOutcome = "success"
	OutcomeFailure TurnOutcome = "failure"
	OutcomePartial TurnOutcome = "partial"
	OutcomePending TurnOutcome = "pending"
)

// ConversationTurn is one user interaction and its resolution.
type ConversationTurn struct {
	ID        string      `json:"id"`
	TS        time.Time   `json:"ts"`
	UserInput string      `json:"user_input"`
	Intent    *UserIntent `json:"intent,omitempty"`
	Response  string      `json:"response,omitempty"`
	Outcome   TurnOutcome `json:"outcome"`
	// Actions names the operations performed during the turn
	// (command names, tool names, file operations).
	Actions []string `json:"actions,omitempty"`
}
