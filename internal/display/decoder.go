package display

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

const (
	DmdPrefix     = "dmd"
	SegmentPrefix = "display"

	// FallbackLevel is used for raw intensities missing from a display's
	// levels table.
	FallbackLevel byte = 0x04
)

// Config describes a display announced to the host.
type Config struct {
	Name   string `json:"name"`
	Index  int    `json:"index"`
	Format Format `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Frame is a decoded display frame, either a PixelFrame or a SegmentFrame.
// Data aliases the display's frame buffer and is overwritten by the next
// decode for the same display.
type Frame interface {
	DisplayName() string
	Format() Format
	Bytes() []byte
	isFrame()
}

type PixelFrame struct {
	Name   string
	Depth  int
	Width  int
	Height int
	Data   []byte
}

func (f PixelFrame) DisplayName() string { return f.Name }
func (f PixelFrame) Bytes() []byte       { return f.Data }
func (f PixelFrame) isFrame()            {}

func (f PixelFrame) Format() Format {
	if f.Depth == 4 {
		return FormatDmd4
	}
	return FormatDmd2
}

type SegmentFrame struct {
	Name     string
	Length   int
	Encoding Encoding
	Data     []byte
}

func (f SegmentFrame) DisplayName() string { return f.Name }
func (f SegmentFrame) Format() Format      { return FormatSegment }
func (f SegmentFrame) Bytes() []byte       { return f.Data }
func (f SegmentFrame) isFrame()            {}

// Clone returns a copy of f that does not alias the decoder's buffer.
func Clone(f Frame) Frame {
	switch v := f.(type) {
	case PixelFrame:
		v.Data = append([]byte(nil), v.Data...)
		return v
	case SegmentFrame:
		v.Data = append([]byte(nil), v.Data...)
		return v
	}
	return f
}

type state struct {
	layout  Layout
	name    string
	buffer  []byte
	levels  map[byte]byte
	missing map[byte]struct{}
}

// Decoder turns raw display buffers into frames. It keeps one frame buffer
// per display index and is not safe for concurrent use; the bridge only
// touches it from the host goroutine.
type Decoder struct {
	displays map[int]*state
	logger   *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{
		displays: make(map[int]*state),
		logger:   logger,
	}
}

// Announce registers a display. It returns false when the index was already
// announced this session or the display type is not supported.
func (d *Decoder) Announce(index int, layout Layout) (Config, bool) {
	if _, ok := d.displays[index]; ok {
		return Config{}, false
	}
	format, ok := FormatOf(layout)
	if !ok {
		d.logger.Warn("Ignoring unsupported display",
			zap.Int("index", index),
			zap.Stringer("layout", layout))
		return Config{}, false
	}

	st := &state{layout: layout, missing: make(map[byte]struct{})}
	cfg := Config{Index: index, Format: format}
	if layout.Type.IsDmd() {
		st.name = fmt.Sprintf("%s%d", DmdPrefix, index)
		st.buffer = make([]byte, layout.Width*layout.Height)
		st.levels = make(map[byte]byte, len(layout.Levels))
		for k, v := range layout.Levels {
			st.levels[k] = v
		}
		cfg.Width, cfg.Height = layout.Width, layout.Height
	} else {
		st.name = fmt.Sprintf("%s%d", SegmentPrefix, index)
		st.buffer = make([]byte, layout.Length*2)
		cfg.Width, cfg.Height = layout.Length, 1
		d.logger.Info("Segment display available",
			zap.String("display", st.name),
			zap.Stringer("type", layout.Type),
			zap.Int("length", layout.Length))
	}
	cfg.Name = st.name
	d.displays[index] = st
	return cfg, true
}

// Decode converts raw into the frame buffer of display index. Frames for
// displays that were never announced are dropped.
func (d *Decoder) Decode(index int, raw []byte) (Frame, bool) {
	st, ok := d.displays[index]
	if !ok {
		d.logger.Warn("Dropping display frame for unknown index", zap.Int("index", index))
		return nil, false
	}

	if st.layout.Type.IsDmd() {
		n := len(st.buffer)
		if len(raw) < n {
			d.logger.Warn("Short display frame",
				zap.String("display", st.name),
				zap.Int("expected", n),
				zap.Int("got", len(raw)))
			n = len(raw)
		}
		for i := 0; i < n; i++ {
			st.buffer[i] = d.level(st, raw[i])
		}
		clear(st.buffer[n:])
		return PixelFrame{
			Name:   st.name,
			Depth:  st.layout.Depth,
			Width:  st.layout.Width,
			Height: st.layout.Height,
			Data:   st.buffer,
		}, true
	}

	n := copy(st.buffer, raw)
	clear(st.buffer[n:])
	enc, _ := EncodingOf(st.layout.Type)
	return SegmentFrame{
		Name:     st.name,
		Length:   st.layout.Length,
		Encoding: enc,
		Data:     st.buffer,
	}, true
}

func (d *Decoder) level(st *state, raw byte) byte {
	if v, ok := st.levels[raw]; ok {
		return v
	}
	if _, seen := st.missing[raw]; !seen {
		st.missing[raw] = struct{}{}
		d.logger.Error("Display levels missing raw intensity",
			zap.String("display", st.name),
			zap.String("level", fmt.Sprintf("0x%02x", raw)),
			zap.String("known", knownLevels(st.levels)))
	}
	return FallbackLevel
}

func knownLevels(levels map[byte]byte) string {
	keys := make([]int, 0, len(levels))
	for k := range levels {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += "-"
		}
		s += fmt.Sprintf("%02X", k)
	}
	return s
}

// Displays returns the announced displays.
func (d *Decoder) Displays() []Config {
	out := make([]Config, 0, len(d.displays))
	for idx, st := range d.displays {
		format, _ := FormatOf(st.layout)
		c := Config{Name: st.name, Index: idx, Format: format}
		if st.layout.Type.IsDmd() {
			c.Width, c.Height = st.layout.Width, st.layout.Height
		} else {
			c.Width, c.Height = st.layout.Length, 1
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset forgets all displays and their buffers.
func (d *Decoder) Reset() {
	d.displays = make(map[int]*state)
}
