package unitconv

import (
	"context"
	"fmt"
	"slices"
)

// AddUnits adds or replaces units. Every cached graph and path is dropped.
func (e *Engine) AddUnits(ctx context.Context, units ...Unit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.provider.(Mutator); ok {
		if err := m.AddUnits(ctx, units...); err != nil {
			return fmt.Errorf("add units: %w", err)
		}
		e.invalidate(true)
		return nil
	}

	for _, u := range units {
		// A unit id lives in exactly one scope; drop copies held elsewhere.
		e.state.Lock()
		delete(e.removed, u.ID)
		e.moved[u.ID] = u.ProductID
		if e.generic != nil && u.ProductID != 0 {
			e.setGenericLocked(withoutUnit(e.generic, u.ID))
		}
		for productID, d := range e.products {
			if productID != u.ProductID {
				e.products[productID] = withoutUnit(d, u.ID)
			}
		}
		e.state.Unlock()
		err := e.patch(ctx, u.ProductID, func(d *dataset) *dataset {
			out := &dataset{facts: d.facts}
			out.units = slices.DeleteFunc(slices.Clone(d.units), func(x Unit) bool { return x.ID == u.ID })
			out.units = append(out.units, u)
			return out
		})
		if err != nil {
			return err
		}
	}
	e.invalidate(false)
	return nil
}

// withoutUnit returns d without the unit, or d itself when it has none.
func withoutUnit(d *dataset, unitID int) *dataset {
	if _, ok := d.unit(unitID); !ok {
		return d
	}
	return &dataset{
		units: slices.DeleteFunc(slices.Clone(d.units), func(u Unit) bool { return u.ID == unitID }),
		facts: d.facts,
	}
}

// RemoveUnits removes units and every conversion fact that references them.
func (e *Engine) RemoveUnits(ctx context.Context, unitIDs ...int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.provider.(Mutator); ok {
		if err := m.RemoveUnits(ctx, unitIDs...); err != nil {
			return fmt.Errorf("remove units: %w", err)
		}
		e.invalidate(true)
		return nil
	}

	gone := func(id int) bool { return slices.Contains(unitIDs, id) }
	strip := func(d *dataset) *dataset {
		return &dataset{
			units: slices.DeleteFunc(slices.Clone(d.units), func(u Unit) bool { return gone(u.ID) }),
			facts: slices.DeleteFunc(slices.Clone(d.facts), func(f ConversionFact) bool {
				return gone(f.FromUnitID) || gone(f.ToUnitID)
			}),
		}
	}

	e.state.Lock()
	for _, id := range unitIDs {
		e.removed[id] = struct{}{}
	}
	if e.generic != nil {
		e.setGenericLocked(strip(e.generic))
	}
	for productID, d := range e.products {
		e.products[productID] = strip(d)
	}
	e.state.Unlock()

	e.invalidate(false)
	return nil
}

// AddConversionFacts adds facts. A fact replaces an existing one of the same
// owner for the same pair of units.
func (e *Engine) AddConversionFacts(ctx context.Context, facts ...ConversionFact) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.provider.(Mutator); ok {
		if err := m.AddConversionFacts(ctx, facts...); err != nil {
			return fmt.Errorf("add conversion facts: %w", err)
		}
		e.invalidate(true)
		return nil
	}

	for _, f := range facts {
		err := e.patch(ctx, f.ProductID, func(d *dataset) *dataset {
			out := &dataset{units: d.units}
			out.facts = slices.DeleteFunc(slices.Clone(d.facts), func(x ConversionFact) bool {
				return (x.ID != "" && x.ID == f.ID) ||
					(x.ProductID == f.ProductID && pairOf(x.FromUnitID, x.ToUnitID) == pairOf(f.FromUnitID, f.ToUnitID))
			})
			out.facts = append(out.facts, f)
			return out
		})
		if err != nil {
			return err
		}
	}
	e.invalidate(false)
	return nil
}

// RemoveConversionFacts removes facts matched by ID, or by owner and pair of
// units when no ID is given.
func (e *Engine) RemoveConversionFacts(ctx context.Context, facts ...ConversionFact) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.provider.(Mutator); ok {
		if err := m.RemoveConversionFacts(ctx, facts...); err != nil {
			return fmt.Errorf("remove conversion facts: %w", err)
		}
		e.invalidate(true)
		return nil
	}

	for _, f := range facts {
		err := e.patch(ctx, f.ProductID, func(d *dataset) *dataset {
			return &dataset{
				units: d.units,
				facts: slices.DeleteFunc(slices.Clone(d.facts), func(x ConversionFact) bool { return sameFact(x, f) }),
			}
		})
		if err != nil {
			return err
		}
	}
	e.invalidate(false)
	return nil
}

// patch loads the dataset of a scope and swaps in fn's result. Caller holds
// mu for writing.
func (e *Engine) patch(ctx context.Context, productID int, fn func(*dataset) *dataset) error {
	if productID == 0 {
		d, err := e.genericData(ctx)
		if err != nil {
			return err
		}
		e.state.Lock()
		e.setGenericLocked(fn(d))
		e.state.Unlock()
		return nil
	}

	d, err := e.productData(ctx, productID)
	if err != nil {
		return err
	}
	e.state.Lock()
	e.products[productID] = fn(d)
	e.state.Unlock()
	return nil
}
