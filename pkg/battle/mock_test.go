package battle

import (
	"context"
	"errors"
	"sync"
)

var errConnectionLost = errors.New("connection lost")

// scriptedPlayer accepts default casualties and answers retreat queries
// from a list, in order. It records every query it sees.
type scriptedPlayer struct {
	AutoPlayer

	mu         sync.Mutex
	retreats   []string
	failSelect int
	casualties []CasualtyQuery
	queries    []RetreatQuery
}

func (p *scriptedPlayer) SelectCasualties(_ context.Context, q CasualtyQuery) (CasualtyDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.casualties = append(p.casualties, q)
	if p.failSelect > 0 {
		p.failSelect--
		return CasualtyDetails{}, errConnectionLost
	}
	return q.Default, nil
}

func (p *scriptedPlayer) RetreatQuery(_ context.Context, q RetreatQuery) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	if len(p.retreats) == 0 {
		return "", nil
	}
	to := p.retreats[0]
	p.retreats = p.retreats[1:]
	return to, nil
}

func (p *scriptedPlayer) retreatQueries() []RetreatQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RetreatQuery(nil), p.queries...)
}

func (p *scriptedPlayer) casualtyQueries() []CasualtyQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CasualtyQuery(nil), p.casualties...)
}

// pickingPlayer returns a fixed casualty selection.
type pickingPlayer struct {
	AutoPlayer
	pick  CasualtyDetails
	calls int
}

func (p *pickingPlayer) SelectCasualties(context.Context, CasualtyQuery) (CasualtyDetails, error) {
	p.calls++
	return p.pick, nil
}
