// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

// Swing position labels
const (
	SwingAuto        = "auto"
	SwingUp          = "up"
	SwingUpCenter    = "up_center"
	SwingCenter      = "center"
	SwingDownCenter  = "down_center"
	SwingDown        = "down"
	SwingLeft        = "left"
	SwingLeftCenter  = "left_center"
	SwingRightCenter = "right_center"
	SwingRight       = "right"
)

type swingEntry struct {
	code  uint8
	label string
}

// SwingTable maps raw swing codes of one device variant to position labels
type SwingTable struct {
	variant    Variant
	vertical   []swingEntry
	horizontal []swingEntry
}

var (
	dnskp11Swing = &SwingTable{
		variant: VariantDNSKP11,
		vertical: []swingEntry{
			{0x0F, SwingAuto},
			{0x01, SwingUp},
			{0x02, SwingUpCenter},
			{0x03, SwingCenter},
			{0x04, SwingDownCenter},
			{0x05, SwingDown},
		},
		horizontal: []swingEntry{
			{0x0D, SwingAuto},
			{0x09, SwingLeft},
			{0x0A, SwingLeftCenter},
			{0x06, SwingCenter},
			{0x0B, SwingRightCenter},
			{0x0C, SwingRight},
		},
	}

	cztacg1Swing = &SwingTable{
		variant: VariantCZTACG1,
		vertical: []swingEntry{
			{0x00, SwingAuto},
			{0x01, SwingUp},
			{0x02, SwingUpCenter},
			{0x03, SwingCenter},
			{0x04, SwingDownCenter},
			{0x05, SwingDown},
		},
		horizontal: []swingEntry{
			{0x00, SwingAuto},
			{0x01, SwingLeft},
			{0x02, SwingLeftCenter},
			{0x03, SwingCenter},
			{0x04, SwingRightCenter},
			{0x05, SwingRight},
		},
	}
)

// SwingTableFor returns the swing table of a device variant.
// Unknown variants fall back to DNSKP11.
func SwingTableFor(v Variant) *SwingTable {
	if v == VariantCZTACG1 {
		return cztacg1Swing
	}
	return dnskp11Swing
}

// Variant returns the variant the table belongs to
func (t *SwingTable) Variant() Variant {
	return t.variant
}

// Vertical returns the label of a vertical swing code
func (t *SwingTable) Vertical(code uint8) (string, bool) {
	return lookupLabel(t.vertical, code)
}

// Horizontal returns the label of a horizontal swing code
func (t *SwingTable) Horizontal(code uint8) (string, bool) {
	return lookupLabel(t.horizontal, code)
}

// VerticalCode returns the code of a vertical swing label
func (t *SwingTable) VerticalCode(label string) (uint8, bool) {
	return lookupCode(t.vertical, label)
}

// HorizontalCode returns the code of a horizontal swing label
func (t *SwingTable) HorizontalCode(label string) (uint8, bool) {
	return lookupCode(t.horizontal, label)
}

// VerticalLabels returns all vertical labels, auto first
func (t *SwingTable) VerticalLabels() []string {
	return labels(t.vertical)
}

// HorizontalLabels returns all horizontal labels, auto first
func (t *SwingTable) HorizontalLabels() []string {
	return labels(t.horizontal)
}

func lookupLabel(entries []swingEntry, code uint8) (string, bool) {
	for _, e := range entries {
		if e.code == code {
			return e.label, true
		}
	}
	return "", false
}

func lookupCode(entries []swingEntry, label string) (uint8, bool) {
	for _, e := range entries {
		if e.label == label {
			return e.code, true
		}
	}
	return 0, false
}

func labels(entries []swingEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.label
	}
	return out
}
