package unitconv

import (
	"context"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/collate"
)

// ProductDosing is the dosing row of a product. FormID and RecDoseUnitID are
// optional; AmountUnitID is required.
type ProductDosing struct {
	ProductID     int
	FormID        int
	RecDoseUnitID int
	AmountUnitID  int
}

func (p ProductDosing) BaseUnitID() int {
	if p.RecDoseUnitID != 0 {
		return p.RecDoseUnitID
	}
	return p.AmountUnitID
}

// UnitOptions is the result of UnitOptionsForProduct. DerivedFormID is set
// when the dosing row had no form and one was derived from its base unit;
// callers may persist it.
type UnitOptions struct {
	Options       []UnitOption
	DerivedFormID int
}

// UnitOptionsForProduct lists the units a dose of the product may be entered
// in, sorted by label.
func (e *Engine) UnitOptionsForProduct(ctx context.Context, dosing ProductDosing) (UnitOptions, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result UnitOptions
	generic, err := e.genericData(ctx)
	if err != nil {
		return result, err
	}
	product := &dataset{}
	if dosing.ProductID != 0 {
		if product, err = e.productData(ctx, dosing.ProductID); err != nil {
			return result, err
		}
	}

	seeds := mapset.NewSet(dosing.AmountUnitID)
	if dosing.RecDoseUnitID != 0 {
		seeds.Add(dosing.RecDoseUnitID)
	}
	candidates := seeds.Clone()

	formID := dosing.FormID
	if formID == 0 {
		base, ok, err := e.unit(ctx, dosing.BaseUnitID())
		if err != nil {
			return result, err
		}
		if ok && base.FormID != 0 {
			formID = base.FormID
			result.DerivedFormID = formID
		}
	}
	if formID != 0 {
		for _, u := range generic.units {
			if u.FormID == formID {
				candidates.Add(u.ID)
			}
		}
		candidates.Append(e.cfg.FormUnitIDs[formID]...)
	}

	productNames := mapset.NewSet[string]()
	for _, u := range product.units {
		candidates.Add(u.ID)
		productNames.Add(u.Name)
	}
	for _, f := range product.facts {
		candidates.Append(f.FromUnitID, f.ToUnitID)
	}

	if candidates.ContainsAny(e.cfg.SmallVolumeUnitIDs...) {
		candidates.Append(e.cfg.SmallVolumeUnitIDs...)
	}

	sc := newScope([]int{dosing.ProductID})
	ids := candidates.ToSlice()
	slices.Sort(ids)
	for _, id := range ids {
		u, ok, err := e.unit(ctx, id)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}
		if e.cfg.ShadowGenericNamesakes && u.Generic() && productNames.Contains(u.Name) && !seeds.Contains(id) {
			continue
		}
		_, convertible, err := e.factor(ctx, id, dosing.AmountUnitID, sc)
		if err != nil {
			return result, err
		}
		if convertible {
			result.Options = append(result.Options, optionFromUnit(u))
		}
	}

	sortOptions(result.Options, e.cfg)
	return result, nil
}

func sortOptions(options []UnitOption, cfg Config) {
	c := collate.New(cfg.sortTag())
	slices.SortFunc(options, func(a, b UnitOption) int {
		if n := c.CompareString(a.Label, b.Label); n != 0 {
			return n
		}
		return a.Value - b.Value
	})
}
