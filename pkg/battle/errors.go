package battle

import (
	"errors"
	"fmt"
)

var (
	// ErrRemote marks a failed remote-player or display call. The step that
	// made the call stays on the execution stack and is re-run on resume.
	ErrRemote = errors.New("remote player unavailable")
	// ErrUnknownStep is returned when a snapshot names a step kind that has
	// no entry in the dispatch table.
	ErrUnknownStep = errors.New("unknown step kind")
	// ErrBattleOver is returned when an attack is added to a finished battle.
	ErrBattleOver = errors.New("battle is over")
	// ErrNoBattle is returned when no pending battle matches a request.
	ErrNoBattle = errors.New("no such battle")
	// ErrBattleBlocked is returned when a battle waits for another one.
	ErrBattleBlocked = errors.New("battle is blocked")
	// ErrIllegalBombard rejects a bombardment order.
	ErrIllegalBombard = errors.New("illegal bombardment")
	// ErrDiceExhausted is returned by a scripted source that ran out of values.
	ErrDiceExhausted = errors.New("scripted dice exhausted")
)

// InvariantError reports illegal internal state. It is never recoverable.
type InvariantError struct {
	Where   string
	Message string
}

func (e *InvariantError) Error() string {
	if e.Where == "" {
		return "invariant violated: " + e.Message
	}
	return fmt.Sprintf("invariant violated in %s: %s", e.Where, e.Message)
}

func invariantf(where, format string, args ...any) *InvariantError {
	return &InvariantError{Where: where, Message: fmt.Sprintf(format, args...)}
}

// CasualtySelectionError describes why a player's casualty selection was rejected.
type CasualtySelectionError struct {
	Message string
}

func (e *CasualtySelectionError) Error() string {
	return "invalid casualty selection: " + e.Message
}

// remoteErr tags a failed player or dice call so callers can tell a
// retryable stop from a broken battle.
func remoteErr(op string, err error) error {
	if errors.Is(err, ErrRemote) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemote, err)
}
