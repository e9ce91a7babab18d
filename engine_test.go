package unitconv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CrossProductPathViaActiveIngredient(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(microC())

	path, ok, err := e.Path(ctx, 3, 1961, 13, 21021)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, path, 12)
	assert.Equal(t, []int{3, 12, 5, 1961}, path)

	factor, ok, err := e.Factor(ctx, 3, 1961, 21021, 13)
	require.NoError(t, err)
	require.True(t, ok)
	// 500 mg per capsule, 555.556 mg per g, 3.6 g per scoop.
	assert.InDelta(t, 0.25, factor, 1e-5)
}

func TestEngine_FactorSingleScope(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(microC())

	tests := []struct {
		name     string
		from, to int
		products []int
		want     float64
		ok       bool
	}{
		{"generic direct", 16, 2, nil, 29.574, true},
		{"generic two hops", 16, 31, nil, 29.574 / 4.929, true},
		{"generic has no capsule weight", 3, 5, nil, 0, false},
		{"product fact", 3, 5, []int{13}, 0.634, true},
		{"product fact reversed", 5, 3, []int{13}, 1 / 0.634, true},
		{"product chain", 1961, 12, []int{21021}, 3.6 * 555.556, true},
		{"generic edges inside product", 16, 2, []int{13}, 29.574, true},
		{"other product's unit", 3, 1961, []int{13}, 0, false},
		{"capsules unknown to powder", 3, 1961, []int{21021}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := e.Factor(ctx, tt.from, tt.to, tt.products...)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEngine_SameUnitIsOne(t *testing.T) {
	ctx := context.Background()
	p := microC()
	e := newTestEngine(p)

	for _, id := range append(p.unitIDs(), 424242) {
		for _, products := range [][]int{nil, {13}, {13, 21021}} {
			f, ok, err := e.Factor(ctx, id, id, products...)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 1.0, f)
		}
	}
	assert.Zero(t, p.unitCalls.Load(), "identity needs no data")
}

func TestEngine_InverseConsistency(t *testing.T) {
	ctx := context.Background()
	p := microC()
	e := newTestEngine(p)
	ids := p.unitIDs()

	for _, products := range [][]int{nil, {13}, {21021}, {13, 21021}} {
		for _, a := range ids {
			for _, b := range ids {
				ab, okAB, err := e.Factor(ctx, a, b, products...)
				require.NoError(t, err)
				ba, okBA, err := e.Factor(ctx, b, a, products...)
				require.NoError(t, err)
				require.Equal(t, okAB, okBA, "reachability %d <-> %d in %v", a, b, products)
				if okAB {
					assert.InDelta(t, 1.0, ab*ba, 1e-9, "%d <-> %d in %v", a, b, products)
				}
			}
		}
	}
}

func TestEngine_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(microC())

	first, ok1, err := e.Factor(ctx, 3, 1961, 13, 21021)
	require.NoError(t, err)
	second, ok2, err := e.Factor(ctx, 3, 1961, 13, 21021)
	require.NoError(t, err)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)

	dosing := ProductDosing{ProductID: 21021, FormID: 3, AmountUnitID: 5}
	o1, err := e.UnitOptionsForProduct(ctx, dosing)
	require.NoError(t, err)
	o2, err := e.UnitOptionsForProduct(ctx, dosing)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)
}

func TestEngine_NegativePathIsCached(t *testing.T) {
	ctx := context.Background()
	p := microC()
	e := newTestEngine(p)

	_, ok, err := e.Factor(ctx, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	builds := e.builds.Load()
	unitCalls := p.unitCalls.Load()
	conversionCalls := p.conversionCalls.Load()

	item := e.paths.Get(pathKey{From: 2, To: 3})
	require.NotNil(t, item)
	assert.False(t, item.Value().Found)

	_, ok, err = e.Factor(ctx, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, builds, e.builds.Load())
	assert.Equal(t, unitCalls, p.unitCalls.Load())
	assert.Equal(t, conversionCalls, p.conversionCalls.Load())
}

func TestEngine_ConversionFactMutationsInvalidate(t *testing.T) {
	ctx := context.Background()
	p := microC()
	e := newTestEngine(p)

	_, ok, err := e.Factor(ctx, 2, 3)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e.AddConversionFacts(ctx, ConversionFact{FromUnitID: 3, ToUnitID: 2, Factor: 0.5}))
	f, ok, err := e.Factor(ctx, 2, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2.0, f, 1e-12)

	require.NoError(t, e.RemoveConversionFacts(ctx, ConversionFact{FromUnitID: 2, ToUnitID: 3}))
	_, ok, err = e.Factor(ctx, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	f, _, err = e.Factor(ctx, 3, 5, 13)
	require.NoError(t, err)
	assert.InDelta(t, 0.634, f, 1e-12)
	require.NoError(t, e.AddConversionFacts(ctx, ConversionFact{FromUnitID: 5, ToUnitID: 3, Factor: 2, ProductID: 13}))
	f, _, err = e.Factor(ctx, 3, 5, 13)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f, 1e-12)

	generic, err := e.GenericDirectConversions(ctx)
	require.NoError(t, err)
	assert.Len(t, generic, 2)
}

func TestEngine_UnitMutations(t *testing.T) {
	ctx := context.Background()
	p := microC()
	e := newTestEngine(p)

	_, ok, err := e.Factor(ctx, 3, 1961, 13, 21021)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.RemoveUnits(ctx, 12))
	_, ok, err = e.Factor(ctx, 3, 1961, 13, 21021)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = e.Unit(ctx, 12)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.AddUnits(ctx, Unit{ID: 40, Name: "tbsp", FormID: 2}))
	require.NoError(t, e.AddConversionFacts(ctx, ConversionFact{FromUnitID: 40, ToUnitID: 2, Factor: 14.787}))
	f, ok, err := e.Factor(ctx, 40, 16)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.5, f, 1e-9)

	opt, ok, err := e.UnitOption(ctx, 40)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, UnitOption{Label: "tbsp", Value: 40}, opt)

	require.NoError(t, e.AddUnits(ctx, Unit{ID: 1962, Name: "scoop (8 cc)", FormID: 3, ProductID: 21021}))
	units, err := e.Units(ctx, 21021)
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestEngine_MissingHopFactorDefaultsToOne(t *testing.T) {
	ctx := context.Background()
	got, hook := collectAnomalies()
	e := newTestEngine(microC(), WithAnomalyHook(hook))

	_, _, err := e.Factor(ctx, 16, 2)
	require.NoError(t, err)

	f, err := e.multiply(ctx, resolvedPath{Units: []int{16, 2, 3}, Via: []int{0, 0}, Found: true}, newScope(nil))
	require.NoError(t, err)
	assert.InDelta(t, 29.574, f, 1e-12)

	require.Len(t, *got, 1)
	assert.Equal(t, AnomalyMissingFactor, (*got)[0].Kind)
	assert.Equal(t, 2, (*got)[0].FromUnitID)
	assert.Equal(t, 3, (*got)[0].ToUnitID)
}

func TestEngine_MalformedFactsContributeNoEdge(t *testing.T) {
	ctx := context.Background()
	p := microC()
	p.facts = append(p.facts,
		ConversionFact{ID: "bad-1", FromUnitID: 2, ToUnitID: 3, Factor: 0},
		ConversionFact{ID: "bad-2", ToUnitID: 3, Factor: 1},
	)
	got, hook := collectAnomalies()
	e := newTestEngine(p, WithAnomalyHook(hook))

	_, ok, err := e.Factor(ctx, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, *got, 2)
	assert.Equal(t, AnomalyMalformedFact, (*got)[0].Kind)
	assert.Equal(t, "bad-1", (*got)[0].Fact.ID)
	assert.Equal(t, "bad-2", (*got)[1].Fact.ID)
}

func TestEngine_NameFallback(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{
		units: []Unit{
			{ID: 5, Name: "g", FormID: 3},
			{ID: 12, Name: "mg vitamin C"},
			{ID: 800, Name: "g", FormID: 3, ProductID: 88},
		},
		facts: []ConversionFact{{FromUnitID: 5, ToUnitID: 12, Factor: 1000}},
	}
	got, hook := collectAnomalies()
	e := newTestEngine(p, WithAnomalyHook(hook))

	path, ok, err := e.Path(ctx, 800, 12, 88)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{800, 12}, path)

	f, ok, err := e.Factor(ctx, 12, 800, 88)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.001, f, 1e-12)
	assert.Empty(t, *got)
}

func TestEngine_ProviderErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	p := microC()
	boom := errors.New("database is down")
	p.setErr(boom)
	e := newTestEngine(p)

	_, _, err := e.Factor(ctx, 16, 2)
	require.ErrorIs(t, err, boom)
	_, err = e.UnitOptionsForProduct(ctx, ProductDosing{ProductID: 13, AmountUnitID: 3})
	require.ErrorIs(t, err, boom)

	p.setErr(nil)
	f, ok, err := e.Factor(ctx, 16, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 29.574, f)
}

func TestEngine_ConcurrentFirstBuildsCoalesce(t *testing.T) {
	ctx := context.Background()
	p := microC()
	p.delay = 20 * time.Millisecond
	e := newTestEngine(p)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, ok, err := e.Factor(ctx, 16, 2)
			if err == nil && (!ok || f != 29.574) {
				err = errors.New("unexpected factor")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, p.genericUnitCalls.Load())
	assert.EqualValues(t, 1, e.builds.Load())
}

func TestEngine_Units(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(microC())

	generic, err := e.Units(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, generic, 6)

	product, err := e.Units(ctx, 21021)
	require.NoError(t, err)
	require.Len(t, product, 1)
	assert.Equal(t, "scoop (4 cc)", product[0].Name)

	product[0].Name = "changed"
	again, err := e.Units(ctx, 21021)
	require.NoError(t, err)
	assert.Equal(t, "scoop (4 cc)", again[0].Name)

	u, ok, err := e.Unit(ctx, 1961)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21021, u.ProductID)

	_, ok, err = e.UnitOption(ctx, 777)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_Convert(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(microC())

	got, ok, err := e.Convert(ctx, 2, 16, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 59.148, got, 1e-9)

	_, ok, err = e.Convert(ctx, 2, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_AddUnitsMovesUnitBetweenScopes(t *testing.T) {
	ctx := context.Background()

	for _, loaded := range []bool{true, false} {
		e := newTestEngine(microC())
		if loaded {
			_, err := e.Units(ctx, 21021)
			require.NoError(t, err)
		}

		require.NoError(t, e.AddUnits(ctx, Unit{ID: 1961, Name: "scoop", FormID: 3}))

		product, err := e.Units(ctx, 21021)
		require.NoError(t, err)
		assert.Empty(t, product, "loaded=%v", loaded)

		generic, err := e.Units(ctx, 0)
		require.NoError(t, err)
		var copies []Unit
		for _, u := range generic {
			if u.ID == 1961 {
				copies = append(copies, u)
			}
		}
		assert.Equal(t, []Unit{{ID: 1961, Name: "scoop", FormID: 3}}, copies, "loaded=%v", loaded)

		u, ok, err := e.Unit(ctx, 1961)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, u.ProductID)
	}

	// And back from generic into a product.
	e := newTestEngine(microC())
	require.NoError(t, e.AddUnits(ctx, Unit{ID: 5, Name: "g", FormID: 3, ProductID: 21021}))
	generic, err := e.Units(ctx, 0)
	require.NoError(t, err)
	for _, u := range generic {
		assert.NotEqual(t, 5, u.ID)
	}
	product, err := e.Units(ctx, 21021)
	require.NoError(t, err)
	assert.Len(t, product, 2)
}
