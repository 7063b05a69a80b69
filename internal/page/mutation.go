package page

// Mutation applies one experiment's page change for a resolved variant.
// Implementations must be idempotent and must not touch elements outside
// their own slot.
type Mutation interface {
	Apply(doc *Document, variant string)
}

// TextMutation swaps the slot's text content per variant.
type TextMutation struct {
	Slot string
	Text map[string]string // variant label -> text
}

func (m TextMutation) Apply(doc *Document, variant string) {
	text, ok := m.Text[variant]
	if !ok {
		return
	}
	for _, n := range doc.Slots(m.Slot) {
		setText(n, text)
	}
}

// ClassMutation adds the chosen variant's class and removes the classes
// belonging to the other variants, so switching variants never leaves
// stale styling behind.
type ClassMutation struct {
	Slot  string
	Class map[string]string // variant label -> class name
}

func (m ClassMutation) Apply(doc *Document, variant string) {
	class, ok := m.Class[variant]
	if !ok {
		return
	}
	for _, n := range doc.Slots(m.Slot) {
		for v, c := range m.Class {
			if v != variant && c != class {
				removeClass(n, c)
			}
		}
		addClass(n, class)
	}
}

// AttrMutation sets one attribute to the variant's value.
type AttrMutation struct {
	Slot  string
	Attr  string
	Value map[string]string // variant label -> attribute value
}

func (m AttrMutation) Apply(doc *Document, variant string) {
	val, ok := m.Value[variant]
	if !ok {
		return
	}
	for _, n := range doc.Slots(m.Slot) {
		setAttr(n, m.Attr, val)
	}
}

// StyleMutation sets one inline style property to the variant's value.
type StyleMutation struct {
	Slot     string
	Property string
	Value    map[string]string // variant label -> property value
}

func (m StyleMutation) Apply(doc *Document, variant string) {
	val, ok := m.Value[variant]
	if !ok {
		return
	}
	for _, n := range doc.Slots(m.Slot) {
		setStyleProp(n, m.Property, val)
	}
}
