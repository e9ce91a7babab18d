package unitconv

import (
	"fmt"
	"log/slog"
)

type AnomalyKind int

const (
	// AnomalyMissingFactor: a resolved path has a hop with no direct factor.
	// The hop counts as 1.
	AnomalyMissingFactor AnomalyKind = iota + 1
	// AnomalyMalformedFact: a fact lacks a unit or has a non-positive factor.
	// It adds no edge.
	AnomalyMalformedFact
)

func (k AnomalyKind) String() string {
	switch k {
	case AnomalyMissingFactor:
		return "missing_factor"
	case AnomalyMalformedFact:
		return "malformed_fact"
	}
	return fmt.Sprintf("anomaly(%d)", int(k))
}

// Anomaly is a recoverable data problem found while building graphs or
// multiplying factors. It is reported, never returned as an error.
type Anomaly struct {
	Kind       AnomalyKind
	FromUnitID int
	ToUnitID   int
	ProductIDs []int
	Fact       ConversionFact
}

type AnomalyHook func(a Anomaly)

func (e *Engine) report(a Anomaly) {
	switch a.Kind {
	case AnomalyMissingFactor:
		e.logger.Warn("No direct factor found, replacing with 1",
			slog.Int("fromUnitID", a.FromUnitID),
			slog.Int("toUnitID", a.ToUnitID),
			slog.Any("productIDs", a.ProductIDs))
	case AnomalyMalformedFact:
		e.logger.Warn("Ignoring incomplete unit conversion",
			slog.String("id", a.Fact.ID),
			slog.Int("fromUnitID", a.Fact.FromUnitID),
			slog.Int("toUnitID", a.Fact.ToUnitID),
			slog.Float64("factor", a.Fact.Factor),
			slog.Int("productID", a.Fact.ProductID))
	}
	for _, hook := range e.hooks {
		hook(a)
	}
}
