package state_test

import (
	"strings"
	"workshop/domain/state"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("StatusGraph", func() {
	var (
		graph *state.StatusGraph
	)

	BeforeEach(func() {
		//                 RECIBIDO  EN_DIAGNOSTICO  EN_REPARACION  ENTREGADO
		// RECIBIDO           -          V               X             X
		// EN_DIAGNOSTICO     V          -               V             X
		// EN_REPARACION      V (open)   V (open)        -             V (open)
		// ENTREGADO          V (open)   V (open)        V (open)      -
		graph = state.NewStatusGraph([]state.Status{
			{Code: "ENTREGADO", Order: 40, Type: state.TypeFinal, Active: true},
			{Code: "EN_REPARACION", Order: 30, Type: state.TypeIntermediate, Active: true},
			{Code: "RECIBIDO", Order: 10, Type: state.TypeInitial, Active: true, AllowedTransitions: []string{"EN_DIAGNOSTICO"}},
			{Code: "EN_DIAGNOSTICO", Order: 20, Type: state.TypeIntermediate, Active: true, AllowedTransitions: []string{"RECIBIDO", "EN_REPARACION"}},
			{Code: "ARCHIVADO", Order: 5, Active: false},
			{Code: "BORRADO", Order: 6, Active: true, Deleted: true},
			{Code: "CANCELADO", Order: 50, Type: state.TypeCancelled, Active: true, AllowedTransitions: []string{"RECIBIDO"}},
		}, nil)
	})

	Describe("NewStatusGraph", func() {
		It("should keep active statuses sorted by display order", func() {
			codes := []string{}
			for _, s := range graph.Statuses() {
				codes = append(codes, s.Code)
			}
			Expect(codes).To(Equal([]string{"RECIBIDO", "EN_DIAGNOSTICO", "EN_REPARACION", "ENTREGADO", "CANCELADO"}))
		})

		It("should not expose its internal slice", func() {
			statuses := graph.Statuses()
			statuses[0].Code = "CHANGED"
			_, found := graph.Find("RECIBIDO")
			Expect(found).To(BeTrue())
		})
	})

	Describe("IsTransitionAllowed", func() {
		It("should follow the allowed transitions list", func() {
			Expect(graph.IsTransitionAllowed("RECIBIDO", "EN_DIAGNOSTICO")).To(BeTrue())
			Expect(graph.IsTransitionAllowed("RECIBIDO", "EN_REPARACION")).To(BeFalse())
			Expect(graph.IsTransitionAllowed("EN_DIAGNOSTICO", "EN_REPARACION")).To(BeTrue())
			Expect(graph.IsTransitionAllowed("EN_DIAGNOSTICO", "ENTREGADO")).To(BeFalse())
		})

		It("should treat an empty list as open", func() {
			Expect(graph.IsTransitionAllowed("EN_REPARACION", "RECIBIDO")).To(BeTrue())
			Expect(graph.IsTransitionAllowed("ENTREGADO", "EN_REPARACION")).To(BeTrue())
		})

		It("should reject unknown, filtered and identical statuses", func() {
			Expect(graph.IsTransitionAllowed("RECIBIDO", "RECIBIDO")).To(BeFalse())
			Expect(graph.IsTransitionAllowed("UNKNOWN", "RECIBIDO")).To(BeFalse())
			Expect(graph.IsTransitionAllowed("EN_REPARACION", "ARCHIVADO")).To(BeFalse())
			Expect(graph.IsTransitionAllowed("EN_REPARACION", "BORRADO")).To(BeFalse())
		})
	})

	Describe("NextStatuses", func() {
		It("should list reachable statuses in display order", func() {
			next := graph.NextStatuses("EN_DIAGNOSTICO")
			Expect(len(next)).To(Equal(2))
			Expect(next[0].Code).To(Equal("RECIBIDO"))
			Expect(next[1].Code).To(Equal("EN_REPARACION"))
		})
	})

	Describe("IsTerminal", func() {
		It("should follow the status type", func() {
			Expect(graph.IsTerminal("ENTREGADO")).To(BeTrue())
			Expect(graph.IsTerminal("CANCELADO")).To(BeTrue())
			Expect(graph.IsTerminal("EN_REPARACION")).To(BeFalse())
			Expect(graph.IsTerminal("UNKNOWN")).To(BeFalse())
		})
	})

	Describe("RequiredFields", func() {
		It("should resolve reception to diagnosis fields", func() {
			fields := graph.RequiredFields("RECIBIDO", "EN_DIAGNOSTICO")
			Expect(len(fields)).To(Equal(3))
			Expect(fields[0].Name).To(Equal("puestoTaller"))
			Expect(fields[0].Required).To(BeTrue())
			Expect(fields[1].Name).To(Equal("tecnicoAsignado"))
			Expect(fields[1].Required).To(BeTrue())
			Expect(fields[2]).To(Equal(state.NotesField))
		})

		It("should fall back to optional notes", func() {
			Expect(graph.RequiredFields("EN_REPARACION", "ENTREGADO")).To(Equal([]state.FieldSpec{state.NotesField}))
			Expect(graph.RequiredFields("EN_DIAGNOSTICO", "RECIBIDO")).To(Equal([]state.FieldSpec{state.NotesField}))
		})

		It("should return copies", func() {
			fields := graph.RequiredFields("ESPERANDO_APROBACION", "EN_REPARACION")
			fields[1].Options[0] = "changed"
			fields[0].Required = false

			again := graph.RequiredFields("ESPERANDO_APROBACION", "EN_REPARACION")
			Expect(again[1].Options[0]).To(Equal("presencial"))
			Expect(again[0].Required).To(BeTrue())
		})

		It("should use a custom table when given", func() {
			table, err := state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: EN_REPARACION
    to: ENTREGADO
    fields:
      - name: kilometraje
        label: Kilometraje
        type: text
        required: true
`))
			Expect(err).To(BeNil())
			custom := state.NewStatusGraph(graph.Statuses(), table)
			Expect(custom.RequiredFields("EN_REPARACION", "ENTREGADO")).To(Equal([]state.FieldSpec{
				{Name: "kilometraje", Label: "Kilometraje", Type: state.FieldText, Required: true},
			}))
			Expect(custom.RequiredFields("RECIBIDO", "EN_DIAGNOSTICO")).To(Equal([]state.FieldSpec{state.NotesField}))
		})
	})
})
