package projection

import (
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

// All includes every field of the requested entity. References are not
// crossed by it.
var All Expression = &Field{Field: document.Path{document.Any}, Include: true, Recursive: true}

// Projection projects documents of one composite entity.
type Projection struct {
	root      *metadata.CompositeEntity
	projector Projector
	logger    logger.Logger

	refProjections sync.Map // *metadata.Reference -> Expression
}

type Option func(*Projection)

// WithLogger sets the logger receiving diagnostics about unknown fields.
func WithLogger(l logger.Logger) Option {
	return func(p *Projection) {
		p.logger = l
	}
}

// New prepares p for documents of root.
func New(p Expression, root *metadata.CompositeEntity, opts ...Option) *Projection {
	out := &Projection{
		root:      root,
		projector: Compile(p, nil),
		logger:    logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// Project returns the projected copy of doc. doc is not modified.
func (w *Projection) Project(doc document.Doc) document.Doc {
	return w.object(doc, w.root.Entity.Root().Fields, w.root, nil, w.projector)
}

func (w *Projection) object(obj map[string]any, fields []*metadata.Field, ce *metadata.CompositeEntity, at document.Path, pr Projector) map[string]any {
	out := make(map[string]any, len(obj))
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := at.Append(key)
		f := lookup(fields, key)
		if f == nil {
			w.logger.Warn("projection skipped unknown field",
				zap.String("entity", ce.Entity.Key()),
				zap.String("path", p.String()))
			continue
		}
		val := obj[key]
		if v, ok := w.field(f, val, ce, p, pr, Decide(pr, p, val)); ok {
			out[key] = v
		}
	}
	return out
}

func (w *Projection) field(f *metadata.Field, val any, ce *metadata.CompositeEntity, p document.Path, pr Projector, d Decision) (any, bool) {
	if d.Result == Exclude {
		return nil, false
	}
	switch f.Type {
	case metadata.TypeObject:
		m, ok := val.(map[string]any)
		if !ok {
			return val, d.Result == Include
		}
		child := w.object(m, f.Fields, ce, p, pr)
		return child, d.Result == Include || len(child) > 0

	case metadata.TypeArray:
		arr, ok := val.([]any)
		if !ok {
			return val, d.Result == Include
		}
		elems := w.elements(arr, f.Items, ce, p, pr)
		query.Apply(d.Sort, elems, func(v any) any { return v })
		return elems, d.Result == Include || len(elems) > 0

	case metadata.TypeReference:
		exact := d.Result == Include && d.Exact
		if !exact && !d.Descendant {
			w.logger.Debug("projection stops at entity boundary", zap.String("path", p.String()))
			return nil, false
		}
		child := ce.ChildAt(ce.Relative(p))
		arr, ok := val.([]any)
		if child == nil || !ok {
			return nil, false
		}
		epr := pr
		if exact && !d.Recursive && !d.Descendant && len(f.Reference.Projection) > 0 {
			if rp := w.referenceProjection(f.Reference); rp != nil {
				epr = Compile(rp, p.Append(document.Any))
			}
		}
		elems := w.elements(arr, child.Entity.Root(), child, p, epr)
		query.Apply(d.Sort, elems, func(v any) any { return v })
		return elems, d.Result == Include || len(elems) > 0
	}

	if d.Result == Include {
		return val, true
	}
	return nil, false
}

func (w *Projection) elements(arr []any, items *metadata.Field, ce *metadata.CompositeEntity, at document.Path, pr Projector) []any {
	out := make([]any, 0, len(arr))
	for i, el := range arr {
		p := at.Append(strconv.Itoa(i))
		d := Decide(pr, p, el)
		if d.Result == Exclude {
			continue
		}
		m, isObject := el.(map[string]any)
		if items.Type.IsSimple() || !isObject {
			if d.Result == Include {
				out = append(out, el)
			}
			continue
		}
		npr := pr
		if d.Result == Include && d.Nested != nil {
			npr = d.Nested
		}
		obj := w.object(m, items.Fields, ce, p, npr)
		if d.Result == Include || len(obj) > 0 {
			out = append(out, obj)
		}
	}
	return out
}

func (w *Projection) referenceProjection(ref *metadata.Reference) Expression {
	if v, ok := w.refProjections.Load(ref); ok {
		return v.(Expression)
	}
	p, err := Parse(ref.Projection)
	if err != nil || p == nil {
		w.logger.Warn("ignoring invalid reference projection",
			zap.String("entity", ref.Entity), zap.Error(err))
		p = List{}
	}
	w.refProjections.Store(ref, p)
	return p
}

func lookup(fields []*metadata.Field, name string) *metadata.Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}
