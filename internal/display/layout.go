package display

import "fmt"

// Type is the runtime's display type code. Values follow the PinMAME core
// display table, including the modifier bits.
type Type int

const (
	Seg16  Type = 0  // 16 segments
	Seg16R Type = 1  // 16 segments, comma and period reversed
	Seg10  Type = 2  // 9 segments and comma
	Seg9   Type = 3  // 9 segments
	Seg8   Type = 4  // 7 segments and comma
	Seg8D  Type = 5  // 7 segments and period
	Seg7   Type = 6  // 7 segments
	Seg87  Type = 7  // 7 segments, comma every three
	Seg87F Type = 8  // 7 segments, forced comma every three
	Seg98  Type = 9  // 9 segments, comma every three
	Seg98F Type = 10 // 9 segments, forced comma every three
	Seg7S  Type = 11 // 7 segments, small
	Seg7SC Type = 12 // 7 segments, small, with comma
	Seg16S Type = 13 // 16 segments, split top and bottom line
	Dmd    Type = 14
	Video  Type = 15
	Seg16N Type = 16 // 16 segments without commas
	Seg16D Type = 17 // 16 segments with periods only

	SegAll   Type = 0x1f
	Import   Type = 0x20
	SegMask  Type = 0x3f
	SegHiBit Type = 0x40
	SegRev   Type = 0x80
	DmdNoAA  Type = 0x100
	NoDisp   Type = 0x200
)

// Base strips the modifier bits.
func (t Type) Base() Type {
	return t & SegAll
}

func (t Type) IsDmd() bool {
	return t&Import == 0 && t.Base() == Dmd
}

func (t Type) String() string {
	if name, ok := typeNames[t.Base()]; ok && t&^(SegAll|SegHiBit|DmdNoAA|NoDisp) == 0 {
		if t&SegHiBit != 0 {
			name += "H"
		}
		return name
	}
	return fmt.Sprintf("type(0x%x)", int(t))
}

var typeNames = map[Type]string{
	Seg16: "SEG16", Seg16R: "SEG16R", Seg10: "SEG10", Seg9: "SEG9",
	Seg8: "SEG8", Seg8D: "SEG8D", Seg7: "SEG7", Seg87: "SEG87",
	Seg87F: "SEG87F", Seg98: "SEG98", Seg98F: "SEG98F", Seg7S: "SEG7S",
	Seg7SC: "SEG7SC", Seg16S: "SEG16S", Dmd: "DMD", Video: "VIDEO",
	Seg16N: "SEG16N", Seg16D: "SEG16D",
}

// Separator describes how a segment display renders commas and periods.
type Separator string

const (
	SeparatorNone          Separator = "none"
	SeparatorComma         Separator = "comma"
	SeparatorPeriod        Separator = "period"
	SeparatorCommaEvery3   Separator = "comma_every_three"
	SeparatorForcedComma3  Separator = "forced_comma_every_three"
	SeparatorCommaPeriod   Separator = "comma_and_period"
	SeparatorReversedComma Separator = "comma_and_period_reversed"
)

// Encoding is the segment layout of one character cell.
type Encoding struct {
	Segments  int       `json:"segments"`
	Separator Separator `json:"separator"`
	Small     bool      `json:"small,omitempty"`
	Split     bool      `json:"split,omitempty"`
}

var encodings = map[Type]Encoding{
	Seg16:  {Segments: 16, Separator: SeparatorCommaPeriod},
	Seg16R: {Segments: 16, Separator: SeparatorReversedComma},
	Seg16N: {Segments: 16, Separator: SeparatorNone},
	Seg16D: {Segments: 16, Separator: SeparatorPeriod},
	Seg16S: {Segments: 16, Separator: SeparatorCommaPeriod, Split: true},
	Seg10:  {Segments: 9, Separator: SeparatorComma},
	Seg9:   {Segments: 9, Separator: SeparatorNone},
	Seg98:  {Segments: 9, Separator: SeparatorCommaEvery3},
	Seg98F: {Segments: 9, Separator: SeparatorForcedComma3},
	Seg8:   {Segments: 7, Separator: SeparatorComma},
	Seg8D:  {Segments: 7, Separator: SeparatorPeriod},
	Seg7:   {Segments: 7, Separator: SeparatorNone},
	Seg87:  {Segments: 7, Separator: SeparatorCommaEvery3},
	Seg87F: {Segments: 7, Separator: SeparatorForcedComma3},
	Seg7S:  {Segments: 7, Separator: SeparatorNone, Small: true},
	Seg7SC: {Segments: 7, Separator: SeparatorComma, Small: true},
}

// EncodingOf returns the segment encoding for t. Only plain segment types and
// their high-bit, no-display variants have one.
func EncodingOf(t Type) (Encoding, bool) {
	if t&(Import|SegRev|DmdNoAA) != 0 || t == SegHiBit || t == NoDisp {
		return Encoding{}, false
	}
	e, ok := encodings[t.Base()]
	return e, ok
}

// Layout is what the runtime reports about a display when it becomes
// available.
type Layout struct {
	Type   Type          `json:"type"`
	Top    int           `json:"top"`
	Left   int           `json:"left"`
	Length int           `json:"length"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Depth  int           `json:"depth"`
	Levels map[byte]byte `json:"-"`
}

func (l Layout) String() string {
	if l.Type.IsDmd() {
		return fmt.Sprintf("%s %dx%d@%d", l.Type, l.Width, l.Height, l.Depth)
	}
	return fmt.Sprintf("%s len=%d", l.Type, l.Length)
}

// Format tags a decoded frame.
type Format string

const (
	FormatDmd2    Format = "dmd2"
	FormatDmd4    Format = "dmd4"
	FormatSegment Format = "segment"
)

// FormatOf returns the frame format for a layout, or false when the display
// type cannot be decoded.
func FormatOf(l Layout) (Format, bool) {
	if l.Type.IsDmd() {
		if l.Depth == 4 {
			return FormatDmd4, true
		}
		return FormatDmd2, true
	}
	if _, ok := EncodingOf(l.Type); ok {
		return FormatSegment, true
	}
	return "", false
}
