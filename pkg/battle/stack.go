package battle

import (
	"context"
	"fmt"
)

// StepKind names an entry of the step dispatch table.
type StepKind string

// Step is one resumable unit of battle work. Params are plain data so a
// stack can be persisted and restored mid-battle.
type Step struct {
	Kind    StepKind         `json:"kind"`
	Side    Side             `json:"side,omitempty"`
	Name    string           `json:"name,omitempty"` // display step name
	AAType  string           `json:"aaType,omitempty"`
	Mode    FireMode         `json:"mode,omitempty"`
	Firing  []UnitID         `json:"firing,omitempty"`
	Targets []UnitID         `json:"targets,omitempty"`
	Return  ReturnFire       `json:"return,omitempty"`
	Roll    *DiceRoll        `json:"roll,omitempty"`
	Details *CasualtyDetails `json:"details,omitempty"`
	Flag    bool             `json:"flag,omitempty"`
	Text    string           `json:"text,omitempty"`
}

// ExecutionStack is a LIFO of steps. A step is popped before it runs; if it
// fails, anything it pushed is discarded and the step goes back on top so
// the next Execute re-runs it from the beginning.
type ExecutionStack struct {
	Steps     []Step `json:"steps,omitempty"`
	Executing bool   `json:"executing,omitempty"`
}

// Push adds steps so that the first argument ends up on top.
func (s *ExecutionStack) Push(steps ...Step) {
	for i := len(steps) - 1; i >= 0; i-- {
		s.Steps = append(s.Steps, steps[i])
	}
}

func (s *ExecutionStack) IsEmpty() bool { return len(s.Steps) == 0 }

// IsExecuting reports an Execute that has not yet drained the stack.
func (s *ExecutionStack) IsExecuting() bool { return s.Executing }

// Peek returns the step that runs next.
func (s *ExecutionStack) Peek() (Step, bool) {
	if len(s.Steps) == 0 {
		return Step{}, false
	}
	return s.Steps[len(s.Steps)-1], true
}

// Execute runs steps until the stack is empty or a step fails.
func (s *ExecutionStack) Execute(ctx context.Context, run func(context.Context, Step) error) error {
	s.Executing = true
	for len(s.Steps) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execute: %w: %w", ErrRemote, err)
		}
		n := len(s.Steps)
		step := s.Steps[n-1]
		s.Steps = s.Steps[:n-1]
		if err := run(ctx, step); err != nil {
			s.Steps = append(s.Steps[:n-1], step)
			return err
		}
	}
	s.Executing = false
	return nil
}

func (s *ExecutionStack) Clone() ExecutionStack {
	c := ExecutionStack{Executing: s.Executing, Steps: make([]Step, len(s.Steps))}
	copy(c.Steps, s.Steps)
	return c
}
