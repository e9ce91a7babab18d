package unitconv

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// fakeProvider serves units and facts from memory and counts calls.
type fakeProvider struct {
	mutex sync.Mutex
	units []Unit
	facts []ConversionFact
	delay time.Duration
	err   error

	unitCalls        atomic.Int32
	genericUnitCalls atomic.Int32
	conversionCalls  atomic.Int32
}

func (p *fakeProvider) SelectUnits(ctx context.Context, filter UnitFilter) ([]Unit, error) {
	p.unitCalls.Add(1)
	if filter == (UnitFilter{}) {
		p.genericUnitCalls.Add(1)
	}
	time.Sleep(p.delay)

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var units []Unit
	for _, u := range p.units {
		if filter.UnitID != 0 {
			if u.ID == filter.UnitID {
				units = append(units, u)
			}
			continue
		}
		if u.ProductID == filter.ProductID {
			units = append(units, u)
		}
	}
	return units, nil
}

func (p *fakeProvider) SelectDirectConversions(ctx context.Context, productID int) ([]ConversionFact, error) {
	p.conversionCalls.Add(1)
	time.Sleep(p.delay)

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var facts []ConversionFact
	for _, f := range p.facts {
		if f.ProductID == productID {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

func (p *fakeProvider) setErr(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.err = err
}

// microC is a vitamin C catalog: product 13 is 180 capsules, product 21021
// is a 250 g powder measured in scoops.
func microC() *fakeProvider {
	return &fakeProvider{
		units: []Unit{
			{ID: 2, Name: "ml", FormID: 2},
			{ID: 3, Name: "capsules", FormID: 1},
			{ID: 5, Name: "g", FormID: 3},
			{ID: 12, Name: "mg vitamin C"},
			{ID: 16, Name: "fl oz (US)", FormID: 2},
			{ID: 31, Name: "tsp", FormID: 4},
			{ID: 1961, Name: "scoop (4 cc)", FormID: 3, ProductID: 21021},
		},
		facts: []ConversionFact{
			{ID: "2", FromUnitID: 16, ToUnitID: 2, Factor: 29.574},
			{ID: "7", FromUnitID: 31, ToUnitID: 2, Factor: 4.929},
			{ID: "99997", FromUnitID: 3, ToUnitID: 5, Factor: 0.634, ProductID: 13},
			{ID: "99999", FromUnitID: 1961, ToUnitID: 5, Factor: 3.600, ProductID: 21021},
			{ID: "3521", FromUnitID: 5, ToUnitID: 12, Factor: 555.556, ProductID: 21021},
			{ID: "99998", FromUnitID: 3, ToUnitID: 12, Factor: 500, ProductID: 13},
		},
	}
}

func newTestEngine(p Provider, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return NewEngine(p, opts...)
}

func (p *fakeProvider) unitIDs() []int {
	ids := make([]int, 0, len(p.units))
	for _, u := range p.units {
		ids = append(ids, u.ID)
	}
	slices.Sort(ids)
	return ids
}
