package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/hotelops/livesync/internal/model"
)

// Alert declares which notification channels a category warrants.
type Alert struct {
	Audible bool
	Visual  bool
}

// Handler is an optional category-specific side effect invoked per
// event during dispatch. Errors (and panics) are isolated by the
// dispatcher and never abort a batch.
type Handler func(ctx context.Context, ev model.ChangeEvent) error

// Descriptor is the static subscription configuration for one category.
type Descriptor struct {
	Category    string
	Priority    model.Priority
	Invalidates []string
	Alert       Alert
	Operations  []model.Operation // interesting operations; empty = all three
	Handler     Handler
}

// Wants reports whether the category subscribes to the given operation.
func (d Descriptor) Wants(op model.Operation) bool {
	if len(d.Operations) == 0 {
		return true
	}
	for _, o := range d.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Registry is the immutable category → descriptor lookup table, built
// once at startup. Reads are lock-free.
type Registry struct {
	byCategory map[string]Descriptor
}

func New(descs []Descriptor) (*Registry, error) {
	m := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if d.Category == "" {
			return nil, fmt.Errorf("registry: descriptor with empty category")
		}
		if !d.Priority.Valid() {
			return nil, fmt.Errorf("registry: category %q: invalid priority %q", d.Category, d.Priority)
		}
		for _, op := range d.Operations {
			if !op.Valid() {
				return nil, fmt.Errorf("registry: category %q: invalid operation %q", d.Category, op)
			}
		}
		if _, dup := m[d.Category]; dup {
			return nil, fmt.Errorf("registry: duplicate category %q", d.Category)
		}
		m[d.Category] = d
	}

	return &Registry{byCategory: m}, nil
}

// DescriptorFor looks up the descriptor for a category. Unknown
// categories return ok=false; callers drop such events silently.
func (r *Registry) DescriptorFor(category string) (Descriptor, bool) {
	d, ok := r.byCategory[category]
	return d, ok
}

// Categories returns all configured categories in stable order, for
// wiring one source subscription per category.
func (r *Registry) Categories() []string {
	out := make([]string, 0, len(r.byCategory))
	for c := range r.byCategory {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
