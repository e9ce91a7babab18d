package unitconv

import (
	"context"
	"math"
)

// Unit is a measurable quantity kind such as capsules, grams or ml.
// ProductID is 0 for generic units. FormID 0 marks a formless unit, a
// substance measure like mg of active ingredient.
type Unit struct {
	ID        int
	Name      string
	FormID    int
	ProductID int
}

func (u Unit) Generic() bool {
	return u.ProductID == 0
}

// ConversionFact reads as: 1 FromUnit = Factor ToUnit.
// ProductID 0 makes the fact generic.
type ConversionFact struct {
	ID         string
	FromUnitID int
	ToUnitID   int
	Factor     float64
	ProductID  int
}

func (f ConversionFact) Generic() bool {
	return f.ProductID == 0
}

func (f ConversionFact) Valid() bool {
	if f.FromUnitID == 0 || f.ToUnitID == 0 || f.FromUnitID == f.ToUnitID {
		return false
	}
	return f.Factor > 0 && !math.IsInf(f.Factor, 0) && !math.IsNaN(f.Factor)
}

// Inverse returns the same fact read in the other direction.
func (f ConversionFact) Inverse() ConversionFact {
	return ConversionFact{
		ID:         f.ID,
		FromUnitID: f.ToUnitID,
		ToUnitID:   f.FromUnitID,
		Factor:     1.0 / f.Factor,
		ProductID:  f.ProductID,
	}
}

// factorFor returns the factor converting from -> to if the fact links the
// two units in either direction.
func (f ConversionFact) factorFor(from, to int) (float64, bool) {
	switch {
	case f.FromUnitID == from && f.ToUnitID == to:
		return f.Factor, true
	case f.FromUnitID == to && f.ToUnitID == from:
		return 1.0 / f.Factor, true
	}
	return 0, false
}

// sameFact matches by ID when both carry one, otherwise by owner and the
// unordered pair of units.
func sameFact(a, b ConversionFact) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.ProductID == b.ProductID && pairOf(a.FromUnitID, a.ToUnitID) == pairOf(b.FromUnitID, b.ToUnitID)
}

type UnitOption struct {
	Label string
	Value int
}

func optionFromUnit(u Unit) UnitOption {
	return UnitOption{Label: u.Name, Value: u.ID}
}

// UnitFilter narrows SelectUnits. The zero value selects generic units.
type UnitFilter struct {
	ProductID int
	UnitID    int
}

// Provider supplies units and conversion facts, usually from a database.
type Provider interface {
	SelectUnits(ctx context.Context, filter UnitFilter) ([]Unit, error)
	SelectDirectConversions(ctx context.Context, productID int) ([]ConversionFact, error)
}

// Mutator is implemented by providers that persist unit and fact changes.
type Mutator interface {
	AddUnits(ctx context.Context, units ...Unit) error
	RemoveUnits(ctx context.Context, unitIDs ...int) error
	AddConversionFacts(ctx context.Context, facts ...ConversionFact) error
	RemoveConversionFacts(ctx context.Context, facts ...ConversionFact) error
}

// ProviderFuncs adapts two plain functions to Provider.
type ProviderFuncs struct {
	Units       func(ctx context.Context, filter UnitFilter) ([]Unit, error)
	Conversions func(ctx context.Context, productID int) ([]ConversionFact, error)
}

func (p ProviderFuncs) SelectUnits(ctx context.Context, filter UnitFilter) ([]Unit, error) {
	if p.Units == nil {
		return nil, nil
	}
	return p.Units(ctx, filter)
}

func (p ProviderFuncs) SelectDirectConversions(ctx context.Context, productID int) ([]ConversionFact, error) {
	if p.Conversions == nil {
		return nil, nil
	}
	return p.Conversions(ctx, productID)
}
