package unitmsgpack

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"unitconv"
)

// MemoryProvider serves a Snapshot and applies mutations to it.
type MemoryProvider struct {
	mutex sync.RWMutex
	snap  Snapshot
}

func NewMemoryProvider(snap Snapshot) *MemoryProvider {
	return &MemoryProvider{snap: Snapshot{
		Units:       slices.Clone(snap.Units),
		Conversions: slices.Clone(snap.Conversions),
		DatetimeMs:  snap.DatetimeMs,
	}}
}

// Snapshot returns a copy of the current catalog.
func (p *MemoryProvider) Snapshot() Snapshot {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return Snapshot{
		Units:       slices.Clone(p.snap.Units),
		Conversions: slices.Clone(p.snap.Conversions),
		DatetimeMs:  p.snap.DatetimeMs,
	}
}

func (p *MemoryProvider) SelectUnits(ctx context.Context, filter unitconv.UnitFilter) ([]unitconv.Unit, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	var units []unitconv.Unit
	for _, u := range p.snap.Units {
		switch {
		case filter.UnitID != 0:
			if u.ID != filter.UnitID {
				continue
			}
		case u.ProductID != filter.ProductID:
			continue
		}
		units = append(units, ToUnit(u))
	}
	return units, nil
}

func (p *MemoryProvider) SelectDirectConversions(ctx context.Context, productID int) ([]unitconv.ConversionFact, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	var facts []unitconv.ConversionFact
	for _, c := range p.snap.Conversions {
		if c.ProductID == productID {
			facts = append(facts, ToConversionFact(c))
		}
	}
	return facts, nil
}

func (p *MemoryProvider) AddUnits(ctx context.Context, units ...unitconv.Unit) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, u := range units {
		p.snap.Units = slices.DeleteFunc(p.snap.Units, func(x Unit) bool { return x.ID == u.ID })
		p.snap.Units = append(p.snap.Units, NewUnit(u))
	}
	return nil
}

func (p *MemoryProvider) RemoveUnits(ctx context.Context, unitIDs ...int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.snap.Units = slices.DeleteFunc(p.snap.Units, func(x Unit) bool { return slices.Contains(unitIDs, x.ID) })
	p.snap.Conversions = slices.DeleteFunc(p.snap.Conversions, func(c UnitConversion) bool {
		return slices.Contains(unitIDs, c.FromUnitID) || slices.Contains(unitIDs, c.ToUnitID)
	})
	return nil
}

func (p *MemoryProvider) AddConversionFacts(ctx context.Context, facts ...unitconv.ConversionFact) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, f := range facts {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		p.snap.Conversions = slices.DeleteFunc(p.snap.Conversions, func(c UnitConversion) bool {
			return c.ID == f.ID || (c.ProductID == f.ProductID && samePair(c, f.FromUnitID, f.ToUnitID))
		})
		p.snap.Conversions = append(p.snap.Conversions, NewUnitConversion(f))
	}
	return nil
}

func (p *MemoryProvider) RemoveConversionFacts(ctx context.Context, facts ...unitconv.ConversionFact) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, f := range facts {
		p.snap.Conversions = slices.DeleteFunc(p.snap.Conversions, func(c UnitConversion) bool {
			if f.ID != "" {
				return c.ID == f.ID
			}
			return c.ProductID == f.ProductID && samePair(c, f.FromUnitID, f.ToUnitID)
		})
	}
	return nil
}

func samePair(c UnitConversion, from, to int) bool {
	return (c.FromUnitID == from && c.ToUnitID == to) || (c.FromUnitID == to && c.ToUnitID == from)
}
