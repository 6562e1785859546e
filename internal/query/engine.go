package query

import (
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/types"
)

// Snapshot is the read surface the engine matches patterns against; a
// *db.Snapshot satisfies it. Kept as a local interface so this package
// never imports db, mirroring the dependency-injection shape used for
// txn.Deps.
type Snapshot interface {
	Get(entity types.EntityID, attribute types.AttributeID) (types.TripleRecord, bool, error)
	ScanEntity(entity types.EntityID) ([]types.TripleRecord, error)
	ScanAll() ([]types.TripleRecord, error)
}

// Engine executes Query values against a Snapshot by backtracking over
// each pattern's candidate matches, combining bindings as it goes.
type Engine struct {
	snapshot Snapshot
	metrics  *metrics.Metrics
}

// NewEngine returns an engine matching patterns against snapshot.
func NewEngine(snapshot Snapshot) *Engine {
	return &Engine{snapshot: snapshot}
}

// SetMetrics wires m into Execute, which records every run's result-row
// count; m may be nil, the zero value's behavior.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// Execute runs where (conjunction), then optional (left join), then
// where_not (anti-join), and projects FindVars into a Result.
func (e *Engine) Execute(q *Query) (*Result, error) {
	contexts := []*Context{NewContext()}
	var err error

	for _, p := range q.WherePatterns {
		if len(contexts) == 0 {
			break
		}
		contexts, err = e.joinContexts(contexts, p)
		if err != nil {
			return nil, err
		}
	}
	for _, p := range q.OptionalPatterns {
		if len(contexts) == 0 {
			break
		}
		contexts, err = e.leftJoinContexts(contexts, p)
		if err != nil {
			return nil, err
		}
	}
	for _, p := range q.WhereNotPatterns {
		if len(contexts) == 0 {
			break
		}
		contexts, err = e.antiJoinContexts(contexts, p)
		if err != nil {
			return nil, err
		}
	}

	rows := make([][]*Datom, 0, len(contexts))
	for _, ctx := range contexts {
		row := make([]*Datom, len(q.FindVars))
		for i, v := range q.FindVars {
			if d, ok := ctx.Get(v); ok {
				bound := d
				row[i] = &bound
			}
		}
		rows = append(rows, row)
	}
	if e.metrics != nil {
		e.metrics.RecordQuery(len(rows))
	}
	return &Result{Columns: append([]string(nil), q.FindVars...), Rows: rows}, nil
}

func (e *Engine) joinContexts(contexts []*Context, p Pattern) ([]*Context, error) {
	var out []*Context
	for _, ctx := range contexts {
		matches, err := e.matchPattern(p, ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if combined, ok := ctx.Combine(m); ok {
				out = append(out, combined)
			}
		}
	}
	return out, nil
}

func (e *Engine) leftJoinContexts(contexts []*Context, p Pattern) ([]*Context, error) {
	var out []*Context
	for _, ctx := range contexts {
		matches, err := e.matchPattern(p, ctx)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			out = append(out, ctx)
			continue
		}
		for _, m := range matches {
			if combined, ok := ctx.Combine(m); ok {
				out = append(out, combined)
			}
		}
	}
	return out, nil
}

func (e *Engine) antiJoinContexts(contexts []*Context, p Pattern) ([]*Context, error) {
	var out []*Context
	for _, ctx := range contexts {
		matches, err := e.matchPattern(p, ctx)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			out = append(out, ctx)
		}
	}
	return out, nil
}

// matchPattern returns one extension context per candidate record that
// satisfies p's literal constraints and is consistent with ctx's
// existing bindings; the caller combines each with ctx itself.
func (e *Engine) matchPattern(p Pattern, ctx *Context) ([]*Context, error) {
	re := resolve(p.Entity, ctx)
	ra := resolve(p.Attribute, ctx)

	entityKnown := !re.isVar || re.bound
	attrKnown := !ra.isVar || ra.bound

	var candidates []types.TripleRecord
	var err error
	switch {
	case entityKnown && attrKnown:
		if re.datom.Kind != DatomEntity || ra.datom.Kind != DatomAttribute {
			return nil, nil
		}
		rec, ok, gerr := e.snapshot.Get(re.datom.Entity, ra.datom.Attribute)
		if gerr != nil {
			return nil, gerr
		}
		if ok {
			candidates = []types.TripleRecord{rec}
		}
	case entityKnown:
		if re.datom.Kind != DatomEntity {
			return nil, nil
		}
		candidates, err = e.snapshot.ScanEntity(re.datom.Entity)
	default:
		candidates, err = e.snapshot.ScanAll()
	}
	if err != nil {
		return nil, err
	}

	out := make([]*Context, 0, len(candidates))
	for _, rec := range candidates {
		ext := NewContext()
		if !bindPosition(ext, p.Entity, EntityDatom(rec.EntityID), ctx) {
			continue
		}
		if !bindPosition(ext, p.Attribute, AttributeDatom(rec.AttributeID), ctx) {
			continue
		}
		if !bindPosition(ext, p.Value, ValueDatom(rec.Value), ctx) {
			continue
		}
		out = append(out, ext)
	}
	return out, nil
}

// bindPosition checks actual against a pattern position: a literal
// position must equal it exactly; a variable position must agree with
// any existing binding (in the outer context or earlier in this same
// pattern, for a repeated variable) and is otherwise newly bound into
// ext.
func bindPosition(ext *Context, elem PatternElement, actual Datom, outer *Context) bool {
	if elem.Kind != ElemVariable {
		return literalDatom(elem).Equal(actual)
	}
	if bound, ok := outer.Get(elem.Variable); ok {
		return bound.Equal(actual)
	}
	if existing, ok := ext.Get(elem.Variable); ok {
		return existing.Equal(actual)
	}
	ext.Set(elem.Variable, actual)
	return true
}

func literalDatom(elem PatternElement) Datom {
	switch elem.Kind {
	case ElemEntity:
		return EntityDatom(elem.Entity)
	case ElemAttribute:
		return AttributeDatom(elem.Attribute)
	default:
		return ValueDatom(elem.Value)
	}
}

type resolution struct {
	isVar bool
	bound bool
	datom Datom
}

func resolve(elem PatternElement, ctx *Context) resolution {
	if elem.Kind != ElemVariable {
		return resolution{datom: literalDatom(elem)}
	}
	if d, ok := ctx.Get(elem.Variable); ok {
		return resolution{isVar: true, bound: true, datom: d}
	}
	return resolution{isVar: true}
}
