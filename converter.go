package unitconv

import (
	"context"
)

// Factor returns the number of toUnit in 1 fromUnit. Conversions specific to
// the given products take precedence over generic ones. ok is false when the
// units are not convertible in that scope.
func (e *Engine) Factor(ctx context.Context, fromUnitID, toUnitID int, productIDs ...int) (float64, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.factor(ctx, fromUnitID, toUnitID, newScope(productIDs))
}

// Convert converts amount fromUnit into toUnit.
func (e *Engine) Convert(ctx context.Context, amount float64, fromUnitID, toUnitID int, productIDs ...int) (float64, bool, error) {
	factor, ok, err := e.Factor(ctx, fromUnitID, toUnitID, productIDs...)
	if err != nil || !ok {
		return 0, ok, err
	}
	return amount * factor, true, nil
}

func (e *Engine) factor(ctx context.Context, from, to int, sc scope) (float64, bool, error) {
	if from == to {
		return 1, true, nil
	}
	p, err := e.resolve(ctx, from, to, sc)
	if err != nil || !p.Found {
		return 0, false, err
	}
	factor, err := e.multiply(ctx, p, sc)
	if err != nil {
		return 0, false, err
	}
	return factor, true, nil
}

// multiply walks the path and multiplies the factor of every hop. A hop
// without a direct factor counts as 1 and is reported.
func (e *Engine) multiply(ctx context.Context, p resolvedPath, sc scope) (float64, error) {
	factor := 1.0
	for i := 0; i+1 < len(p.Units); i++ {
		via := 0
		if i < len(p.Via) {
			via = p.Via[i]
		}
		f, ok, err := e.preferredDirectFactor(ctx, p.Units[i], p.Units[i+1], via)
		if err != nil {
			return 0, err
		}
		if !ok {
			e.report(Anomaly{
				Kind:       AnomalyMissingFactor,
				FromUnitID: p.Units[i],
				ToUnitID:   p.Units[i+1],
				ProductIDs: sc.productIDs,
			})
			f = 1
		}
		factor *= f
	}
	return factor, nil
}

// preferredDirectFactor looks for a single fact linking the two units:
// the product's facts first, generic facts second, and then the same lookup
// with product units replaced by their generic namesakes.
func (e *Engine) preferredDirectFactor(ctx context.Context, from, to, productID int) (float64, bool, error) {
	if from == to {
		return 1, true, nil
	}
	if f, ok, err := e.directFactor(ctx, from, to, productID); err != nil || ok {
		return f, ok, err
	}

	genericFrom, err := e.genericNamesake(ctx, from)
	if err != nil {
		return 0, false, err
	}
	genericTo, err := e.genericNamesake(ctx, to)
	if err != nil {
		return 0, false, err
	}
	if genericFrom == from && genericTo == to {
		return 0, false, nil
	}
	return e.directFactor(ctx, genericFrom, genericTo, productID)
}

func (e *Engine) directFactor(ctx context.Context, from, to, productID int) (float64, bool, error) {
	if from == to {
		return 1, true, nil
	}
	if productID != 0 {
		d, err := e.productData(ctx, productID)
		if err != nil {
			return 0, false, err
		}
		if f, ok := lookupFact(d.facts, from, to); ok {
			return f, true, nil
		}
	}
	generic, err := e.genericData(ctx)
	if err != nil {
		return 0, false, err
	}
	f, ok := lookupFact(generic.facts, from, to)
	return f, ok, nil
}

// genericNamesake returns the id of the generic unit named like unitID, or
// unitID itself when there is none.
func (e *Engine) genericNamesake(ctx context.Context, unitID int) (int, error) {
	u, ok, err := e.unit(ctx, unitID)
	if err != nil || !ok || u.Generic() {
		return unitID, err
	}
	e.state.Lock()
	id, found := e.aliases[u.Name]
	e.state.Unlock()
	if !found {
		return unitID, nil
	}
	return id, nil
}

func lookupFact(facts []ConversionFact, from, to int) (float64, bool) {
	for _, f := range facts {
		if !f.Valid() {
			continue
		}
		if factor, ok := f.factorFor(from, to); ok {
			return factor, true
		}
	}
	return 0, false
}
