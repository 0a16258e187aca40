package state

import (
	"sort"
)

type StatusGraphTraits interface {
	IsTransitionAllowed(from, to string) bool
	RequiredFields(from, to string) []FieldSpec
}

type Type string

const (
	TypeInitial      Type = "inicial"
	TypeIntermediate Type = "intermedio"
	TypeFinal        Type = "final"
	TypeCancelled    Type = "cancelado"
)

// Status is a work order status as served by the collaborator API.
type Status struct {
	ID    string `json:"_id"`
	Code  string `json:"codigo"`
	Name  string `json:"nombre"`
	Order int    `json:"orden"`
	Type  Type   `json:"tipo"`
	Color string `json:"color,omitempty"`

	// empty or unset means the status may move anywhere
	AllowedTransitions []string `json:"transicionesPermitidas,omitempty"`

	RequiresApproval      bool `json:"requiereAprobacion"`
	RequiresDocumentation bool `json:"requiereDocumentacion"`
	NotifyCustomer        bool `json:"notificarCliente"`
	NotifyTechnician      bool `json:"notificarTecnico"`

	Active  bool `json:"activo"`
	Deleted bool `json:"eliminado"`
}

// stateless object, just used for status computing
type StatusGraph struct {
	statuses []Status
	fields   TransitionFieldTable
}

// NewStatusGraph keeps active, non-deleted statuses ordered by display order.
// A nil field table means DefaultTransitionFieldTable.
func NewStatusGraph(statuses []Status, fields TransitionFieldTable) *StatusGraph {
	nodes := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		if s.Active && !s.Deleted {
			nodes = append(nodes, s)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Order < nodes[j].Order
	})
	if fields == nil {
		fields = DefaultTransitionFieldTable
	}
	return &StatusGraph{statuses: nodes, fields: fields}
}

func (g *StatusGraph) Statuses() []Status {
	r := make([]Status, len(g.statuses))
	copy(r, g.statuses)
	return r
}

func (g *StatusGraph) Find(code string) (Status, bool) {
	for _, s := range g.statuses {
		if s.Code == code {
			return s, true
		}
	}
	return Status{}, false
}

// IsTransitionAllowed requires both codes to be nodes of the graph and to differ.
func (g *StatusGraph) IsTransitionAllowed(from, to string) bool {
	if from == to {
		return false
	}
	fromStatus, found := g.Find(from)
	if !found {
		return false
	}
	if _, found := g.Find(to); !found {
		return false
	}
	if len(fromStatus.AllowedTransitions) == 0 {
		return true
	}
	for _, code := range fromStatus.AllowedTransitions {
		if code == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from code, in display order.
func (g *StatusGraph) NextStatuses(code string) []Status {
	r := []Status{}
	for _, s := range g.statuses {
		if g.IsTransitionAllowed(code, s.Code) {
			r = append(r, s)
		}
	}
	return r
}

// IsTerminal is a naming convention only; outgoing edges of terminal statuses are not blocked.
func (g *StatusGraph) IsTerminal(code string) bool {
	s, found := g.Find(code)
	return found && (s.Type == TypeFinal || s.Type == TypeCancelled)
}

func (g *StatusGraph) RequiredFields(from, to string) []FieldSpec {
	specs, found := g.fields.Lookup(from, to)
	if !found {
		return []FieldSpec{NotesField}
	}
	r := make([]FieldSpec, len(specs))
	for i, spec := range specs {
		r[i] = spec
		if spec.Options != nil {
			r[i].Options = append([]string{}, spec.Options...)
		}
	}
	return r
}
