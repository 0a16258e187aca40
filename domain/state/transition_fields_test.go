package state_test

import (
	"strings"
	"workshop/domain/state"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("TransitionFieldTable", func() {
	Describe("DefaultTransitionFieldTable", func() {
		It("should be loaded from the embedded document", func() {
			specs, found := state.DefaultTransitionFieldTable.Lookup("RECIBIDO", "EN_DIAGNOSTICO")
			Expect(found).To(BeTrue())
			Expect(len(specs)).To(Equal(3))

			_, found = state.DefaultTransitionFieldTable.Lookup("EN_DIAGNOSTICO", "RECIBIDO")
			Expect(found).To(BeFalse())
		})
	})

	Describe("LoadTransitionFieldTable", func() {
		It("should accept an empty document", func() {
			table, err := state.LoadTransitionFieldTable(strings.NewReader(""))
			Expect(err).To(BeNil())
			Expect(len(table)).To(BeZero())
		})

		It("should reject dropdowns without options", func() {
			_, err := state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: A
    to: B
    fields:
      - name: motivo
        label: Motivo
        type: dropdown
`))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(HavePrefix("invalid transition fields"))
		})

		It("should reject unknown field types", func() {
			_, err := state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: A
    to: B
    fields:
      - name: motivo
        label: Motivo
        type: checkbox
`))
			Expect(err).ToNot(BeNil())
		})

		It("should reject duplicated pairs and fields", func() {
			_, err := state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: A
    to: B
    fields:
      - {name: x, label: X, type: text}
  - from: A
    to: B
    fields:
      - {name: y, label: Y, type: text}
`))
			Expect(err).To(MatchError("duplicated transition fields A -> B"))

			_, err = state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: A
    to: B
    fields:
      - {name: x, label: X, type: text}
      - {name: x, label: X2, type: textarea}
`))
			Expect(err).To(MatchError("duplicated field 'x' in transition A -> B"))
		})

		It("should reject unknown keys and self transitions", func() {
			_, err := state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: A
    to: B
    colour: red
    fields:
      - {name: x, label: X, type: text}
`))
			Expect(err).ToNot(BeNil())

			_, err = state.LoadTransitionFieldTable(strings.NewReader(`
transitions:
  - from: A
    to: A
    fields:
      - {name: x, label: X, type: text}
`))
			Expect(err).ToNot(BeNil())
		})
	})

	Describe("LoadTransitionFieldTableFile", func() {
		It("should fall back to the default table", func() {
			table, err := state.LoadTransitionFieldTableFile("")
			Expect(err).To(BeNil())
			Expect(table).To(Equal(state.DefaultTransitionFieldTable))
		})
	})
})
