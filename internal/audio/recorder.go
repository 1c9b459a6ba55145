package audio

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

// Recorder writes pulled audio to a 16-bit PCM WAV file.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	buf     *audio.IntBuffer
	logger  *zap.Logger
	failed  bool
}

func NewRecorder(path string, sampleRate, channels int, logger *zap.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	return &Recorder{
		file:    f,
		encoder: enc,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
		logger: logger,
	}, nil
}

// Write converts float samples in [-1, 1] to 16-bit and appends them.
func (r *Recorder) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil || r.failed {
		return
	}

	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		r.buf.Data[i] = int(math.Round(float64(clamp(s)) * math.MaxInt16))
	}
	if err := r.encoder.Write(r.buf); err != nil {
		r.failed = true
		r.logger.Error("Audio capture failed", zap.Error(err))
	}
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return nil
	}
	err := r.encoder.Close()
	r.encoder = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
