package audio

import (
	"encoding/binary"
	"math"
)

// Reader adapts a Pipeline to an io.Reader of float32 little-endian
// samples, the pull model audio players expect. It never returns short
// reads; silence is produced while the pipeline is empty.
type Reader struct {
	pipeline *Pipeline
	channels int
	scratch  []float32
	tap      func([]float32)
}

func NewReader(p *Pipeline, channels int) *Reader {
	return &Reader{pipeline: p, channels: channels}
}

// Tap installs fn to observe every pulled block, e.g. for capture.
func (r *Reader) Tap(fn func([]float32)) {
	r.tap = fn
}

func (r *Reader) Read(b []byte) (int, error) {
	n := len(b) / 4
	if n == 0 {
		return 0, nil
	}
	if cap(r.scratch) < n {
		r.scratch = make([]float32, n)
	}
	buf := r.scratch[:n]
	r.pipeline.Pull(buf, r.channels)
	if r.tap != nil {
		r.tap(buf)
	}
	for i, s := range buf {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}
