package unitconv

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// dataset is the unit and fact set of one scope as fetched from the provider.
// Datasets are never modified in place; mutations swap in a new one.
type dataset struct {
	units []Unit
	facts []ConversionFact
}

func (d *dataset) unit(id int) (Unit, bool) {
	for _, u := range d.units {
		if u.ID == id {
			return u, true
		}
	}
	return Unit{}, false
}

// Engine resolves conversion factors between units and the unit options
// valid for a product. It owns every cache it fills; create one per process
// and share it.
type Engine struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger
	hooks    []AnomalyHook

	// Readers hold mu for reading for the whole call, mutations for writing.
	mu sync.RWMutex

	state    sync.Mutex
	generic  *dataset
	aliases  map[string]int
	products map[int]*dataset
	lookups  map[int]*Unit // units fetched one by one; nil marks a miss
	removed  map[int]struct{}
	moved    map[int]int // unit id -> owning product after an in-memory AddUnits
	graphs   map[int]*graph

	flight     singleflight.Group
	pathFlight singleflight.Group
	paths      *ttlcache.Cache[pathKey, resolvedPath]

	builds atomic.Int64
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithAnomalyHook(hook AnomalyHook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hook)
	}
}

func NewEngine(provider Provider, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		products: make(map[int]*dataset),
		lookups:  make(map[int]*Unit),
		removed:  make(map[int]struct{}),
		moved:    make(map[int]int),
		graphs:   make(map[int]*graph),
		paths: ttlcache.New[pathKey, resolvedPath](
			ttlcache.WithDisableTouchOnHit[pathKey, resolvedPath](),
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) genericData(ctx context.Context) (*dataset, error) {
	e.state.Lock()
	d := e.generic
	e.state.Unlock()
	if d != nil {
		return d, nil
	}

	v, err, _ := e.flight.Do("data:generic", func() (any, error) {
		e.state.Lock()
		d := e.generic
		e.state.Unlock()
		if d != nil {
			return d, nil
		}

		units, err := e.provider.SelectUnits(ctx, UnitFilter{})
		if err != nil {
			return nil, fmt.Errorf("select generic units: %w", err)
		}
		facts, err := e.provider.SelectDirectConversions(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("select generic conversions: %w", err)
		}

		e.state.Lock()
		defer e.state.Unlock()
		d = &dataset{
			units: e.keepUnits(units, func(u Unit) bool { return u.Generic() }),
			facts: e.keepFacts(facts, func(f ConversionFact) bool { return f.Generic() }),
		}
		e.setGenericLocked(d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dataset), nil
}

func (e *Engine) productData(ctx context.Context, productID int) (*dataset, error) {
	e.state.Lock()
	d := e.products[productID]
	e.state.Unlock()
	if d != nil {
		return d, nil
	}

	v, err, _ := e.flight.Do("data:"+strconv.Itoa(productID), func() (any, error) {
		e.state.Lock()
		d := e.products[productID]
		e.state.Unlock()
		if d != nil {
			return d, nil
		}

		units, err := e.provider.SelectUnits(ctx, UnitFilter{ProductID: productID})
		if err != nil {
			return nil, fmt.Errorf("select units for product %d: %w", productID, err)
		}
		facts, err := e.provider.SelectDirectConversions(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("select conversions for product %d: %w", productID, err)
		}

		e.state.Lock()
		defer e.state.Unlock()
		d = &dataset{
			units: e.keepUnits(units, func(u Unit) bool { return u.ProductID == productID }),
			facts: e.keepFacts(facts, func(f ConversionFact) bool { return f.ProductID == productID }),
		}
		e.products[productID] = d
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dataset), nil
}

// keepUnits filters provider rows to the requested scope and drops units
// removed or re-homed through an engine without a Mutator provider. Caller
// holds state.
func (e *Engine) keepUnits(units []Unit, in func(Unit) bool) []Unit {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if _, gone := e.removed[u.ID]; gone || e.stale(u) || !in(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// stale reports whether u is a provider row for a unit that AddUnits has
// since moved to another product. Caller holds state.
func (e *Engine) stale(u Unit) bool {
	owner, ok := e.moved[u.ID]
	return ok && owner != u.ProductID
}

func (e *Engine) keepFacts(facts []ConversionFact, in func(ConversionFact) bool) []ConversionFact {
	out := make([]ConversionFact, 0, len(facts))
	for _, f := range facts {
		_, fromGone := e.removed[f.FromUnitID]
		_, toGone := e.removed[f.ToUnitID]
		if fromGone || toGone || !in(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (e *Engine) setGenericLocked(d *dataset) {
	e.generic = d
	e.aliases = nameIndex(d.units)
}

func (e *Engine) graphFor(ctx context.Context, productID int) (*graph, error) {
	e.state.Lock()
	g := e.graphs[productID]
	e.state.Unlock()
	if g != nil {
		return g, nil
	}

	v, err, _ := e.flight.Do("graph:"+strconv.Itoa(productID), func() (any, error) {
		e.state.Lock()
		g := e.graphs[productID]
		e.state.Unlock()
		if g != nil {
			return g, nil
		}

		generic, err := e.genericData(ctx)
		if err != nil {
			return nil, err
		}
		if productID == 0 {
			g = buildGraph(generic.units, generic.facts, e.report)
		} else {
			base, err := e.graphFor(ctx, 0)
			if err != nil {
				return nil, err
			}
			d, err := e.productData(ctx, productID)
			if err != nil {
				return nil, err
			}
			e.state.Lock()
			aliases := e.aliases
			e.state.Unlock()
			g = overlayGraph(base, productID, d.units, d.facts, aliases, e.report)
		}
		e.builds.Add(1)
		e.logger.Debug("Built unit conversion graph",
			slog.Int("productID", productID),
			slog.Int("nodes", len(g.edges)))

		e.state.Lock()
		e.graphs[productID] = g
		e.state.Unlock()
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph), nil
}

func (e *Engine) layers(ctx context.Context, sc scope) ([]*graph, error) {
	if sc.generic() {
		g, err := e.graphFor(ctx, 0)
		if err != nil {
			return nil, err
		}
		return []*graph{g}, nil
	}
	layers := make([]*graph, 0, len(sc.productIDs))
	for _, id := range sc.productIDs {
		g, err := e.graphFor(ctx, id)
		if err != nil {
			return nil, err
		}
		layers = append(layers, g)
	}
	return layers, nil
}

func (e *Engine) resolve(ctx context.Context, from, to int, sc scope) (resolvedPath, error) {
	if from == to {
		return resolvedPath{Found: true}, nil
	}
	key := pathKey{From: from, To: to, Scope: sc.key}
	if item := e.paths.Get(key); item != nil {
		return item.Value(), nil
	}

	layers, err := e.layers(ctx, sc)
	if err != nil {
		return resolvedPath{}, err
	}
	bridges, err := e.bridgeSet(ctx, sc)
	if err != nil {
		return resolvedPath{}, err
	}

	loader := ttlcache.LoaderFunc[pathKey, resolvedPath](
		func(c *ttlcache.Cache[pathKey, resolvedPath], k pathKey) *ttlcache.Item[pathKey, resolvedPath] {
			p := findPath(layers, k.From, k.To, func(id int) bool {
				_, ok := bridges[id]
				return ok
			})
			return c.Set(k, p, ttlcache.NoTTL)
		},
	)
	item := e.paths.Get(key, ttlcache.WithLoader[pathKey, resolvedPath](
		ttlcache.NewSuppressedLoader[pathKey, resolvedPath](loader, &e.pathFlight),
	))
	if item == nil {
		return resolvedPath{}, fmt.Errorf("resolve path %d -> %d: cache returned no item", from, to)
	}
	return item.Value(), nil
}

// bridgeSet lists the units that may join product layers: configured ids
// plus every known formless unit of the scope.
func (e *Engine) bridgeSet(ctx context.Context, sc scope) (map[int]struct{}, error) {
	bridges := make(map[int]struct{})
	if len(sc.productIDs) < 2 {
		return bridges, nil
	}
	for _, id := range e.cfg.BridgeUnitIDs {
		bridges[id] = struct{}{}
	}
	generic, err := e.genericData(ctx)
	if err != nil {
		return nil, err
	}
	sets := []*dataset{generic}
	for _, id := range sc.productIDs {
		d, err := e.productData(ctx, id)
		if err != nil {
			return nil, err
		}
		sets = append(sets, d)
	}
	for _, d := range sets {
		for _, u := range d.units {
			if u.FormID == 0 {
				bridges[u.ID] = struct{}{}
			}
		}
	}
	return bridges, nil
}

// unit finds a unit in the loaded datasets and falls back to a provider
// lookup by id. Caller holds mu.
func (e *Engine) unit(ctx context.Context, id int) (Unit, bool, error) {
	generic, err := e.genericData(ctx)
	if err != nil {
		return Unit{}, false, err
	}
	if u, ok := generic.unit(id); ok {
		return u, true, nil
	}

	e.state.Lock()
	for _, d := range e.products {
		if u, ok := d.unit(id); ok {
			e.state.Unlock()
			return u, true, nil
		}
	}
	cached, seen := e.lookups[id]
	e.state.Unlock()
	if seen {
		if cached == nil {
			return Unit{}, false, nil
		}
		return *cached, true, nil
	}

	v, err, _ := e.flight.Do("unit:"+strconv.Itoa(id), func() (any, error) {
		units, err := e.provider.SelectUnits(ctx, UnitFilter{UnitID: id})
		if err != nil {
			return nil, fmt.Errorf("select unit %d: %w", id, err)
		}
		var found *Unit
		e.state.Lock()
		defer e.state.Unlock()
		if _, gone := e.removed[id]; !gone {
			for _, u := range units {
				if u.ID == id && !e.stale(u) {
					found = &u
					break
				}
			}
		}
		e.lookups[id] = found
		return found, nil
	})
	if err != nil {
		return Unit{}, false, err
	}
	if found := v.(*Unit); found != nil {
		return *found, true, nil
	}
	return Unit{}, false, nil
}

// invalidate drops every graph and path entry. With dropData the loaded
// datasets go too so the next read refetches from the provider. Caller
// holds mu for writing.
func (e *Engine) invalidate(dropData bool) {
	e.state.Lock()
	e.graphs = make(map[int]*graph)
	e.lookups = make(map[int]*Unit)
	if dropData {
		e.generic = nil
		e.aliases = nil
		e.products = make(map[int]*dataset)
	}
	e.state.Unlock()
	e.paths.DeleteAll()
}

// Unit returns a copy of the unit with the given id.
func (e *Engine) Unit(ctx context.Context, unitID int) (Unit, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unit(ctx, unitID)
}

// Units returns the generic units, or the units of productID when it is set.
func (e *Engine) Units(ctx context.Context, productID int) ([]Unit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var d *dataset
	var err error
	if productID == 0 {
		d, err = e.genericData(ctx)
	} else {
		d, err = e.productData(ctx, productID)
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.units), nil
}

func (e *Engine) GenericDirectConversions(ctx context.Context) ([]ConversionFact, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, err := e.genericData(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.facts), nil
}

func (e *Engine) UnitOption(ctx context.Context, unitID int) (UnitOption, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok, err := e.unit(ctx, unitID)
	if err != nil || !ok {
		return UnitOption{}, false, err
	}
	return optionFromUnit(u), true, nil
}

// Path returns the unit chain used to convert from -> to. An empty path with
// ok true means from == to.
func (e *Engine) Path(ctx context.Context, from, to int, productIDs ...int) ([]int, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := e.resolve(ctx, from, to, newScope(productIDs))
	if err != nil {
		return nil, false, err
	}
	return slices.Clone(p.Units), p.Found, nil
}
