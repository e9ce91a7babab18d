package unitmsgpack

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"unitconv"
)

type Unit struct {
	ID        int    `msgpack:"id,omitempty"`
	Name      string `msgpack:"name,omitempty"`
	FormID    int    `msgpack:"form_id,omitempty"`
	ProductID int    `msgpack:"product_id,omitempty"`
}

type UnitConversion struct {
	ID         string  `msgpack:"id,omitempty"`
	FromUnitID int     `msgpack:"from_unit_id,omitempty"`
	ToUnitID   int     `msgpack:"to_unit_id,omitempty"`
	Factor     float64 `msgpack:"factor,omitempty"`
	ProductID  int     `msgpack:"product_id,omitempty"`
}

// Snapshot is a unit catalog: generic and product-specific units and
// conversions in provider order.
type Snapshot struct {
	Units       []Unit           `msgpack:"units,omitempty"`
	Conversions []UnitConversion `msgpack:"conversions,omitempty"`
	DatetimeMs  int64            `msgpack:"date,omitempty"` // export time, unix ms
}

func NewUnit(u unitconv.Unit) Unit {
	return Unit{ID: u.ID, Name: u.Name, FormID: u.FormID, ProductID: u.ProductID}
}

func ToUnit(u Unit) unitconv.Unit {
	return unitconv.Unit{ID: u.ID, Name: u.Name, FormID: u.FormID, ProductID: u.ProductID}
}

func NewUnitConversion(f unitconv.ConversionFact) UnitConversion {
	return UnitConversion{
		ID:         f.ID,
		FromUnitID: f.FromUnitID,
		ToUnitID:   f.ToUnitID,
		Factor:     f.Factor,
		ProductID:  f.ProductID,
	}
}

func ToConversionFact(c UnitConversion) unitconv.ConversionFact {
	return unitconv.ConversionFact{
		ID:         c.ID,
		FromUnitID: c.FromUnitID,
		ToUnitID:   c.ToUnitID,
		Factor:     c.Factor,
		ProductID:  c.ProductID,
	}
}

func Encode(w io.Writer, snap Snapshot) error {
	return msgpack.NewEncoder(w).Encode(&snap)
}

func Decode(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode unit snapshot: %w", err)
	}
	return snap, nil
}

// Export reads the generic catalog plus the given products from p and
// stamps the snapshot with the export time.
func Export(ctx context.Context, p unitconv.Provider, productIDs ...int) (Snapshot, error) {
	snap := Snapshot{DatetimeMs: time.Now().UnixMilli()}
	scopes := append([]int{0}, productIDs...)
	for _, productID := range scopes {
		units, err := p.SelectUnits(ctx, unitconv.UnitFilter{ProductID: productID})
		if err != nil {
			return Snapshot{}, fmt.Errorf("export units of product %d: %w", productID, err)
		}
		for _, u := range units {
			snap.Units = append(snap.Units, NewUnit(u))
		}
		facts, err := p.SelectDirectConversions(ctx, productID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("export conversions of product %d: %w", productID, err)
		}
		for _, f := range facts {
			snap.Conversions = append(snap.Conversions, NewUnitConversion(f))
		}
	}
	return snap, nil
}
