package audio

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const DefaultQueueFrames = 10

// Info describes the runtime's native audio stream.
type Info struct {
	Channels        int     `json:"channels"`
	SampleRate      float64 `json:"sample_rate"`
	FramesPerSecond float64 `json:"frames_per_second"`
	SamplesPerFrame int     `json:"samples_per_frame"`
	BufferSize      int     `json:"buffer_size"`
}

func (i Info) String() string {
	return fmt.Sprintf("%d ch @ %.0f Hz, %d samples/frame", i.Channels, i.SampleRate, i.SamplesPerFrame)
}

// Policy is how native channels are mapped to host channels.
type Policy int

const (
	PolicyUndecided Policy = iota
	PolicyPassthrough
	PolicyDuplicate // mono to stereo
	PolicyDecimate  // stereo to mono, first channel of each pair
	PolicyGeneric
)

func (p Policy) String() string {
	switch p {
	case PolicyPassthrough:
		return "passthrough"
	case PolicyDuplicate:
		return "duplicate"
	case PolicyDecimate:
		return "decimate"
	case PolicyGeneric:
		return "generic"
	default:
		return "undecided"
	}
}

func decidePolicy(native, host int) Policy {
	switch {
	case native == host:
		return PolicyPassthrough
	case native == 1 && host == 2:
		return PolicyDuplicate
	case native == 2 && host == 1:
		return PolicyDecimate
	default:
		return PolicyGeneric
	}
}

// Stats counts samples, not frames. Input is in native samples, Output and
// Dropped in host samples.
type Stats struct {
	Input   int64 `json:"input"`
	Output  int64 `json:"output"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

// Pipeline buffers audio pushed by the runtime until the host's audio
// callback pulls it. Push and Pull run on different goroutines.
type Pipeline struct {
	mu       sync.Mutex
	logger   *zap.Logger
	maxQueue int

	info         Info
	hostChannels int
	policy       Policy

	queue  [][]float32
	tail   []float32
	offset int

	starved bool
	stats   Stats
}

func NewPipeline(maxQueue int, logger *zap.Logger) *Pipeline {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueFrames
	}
	return &Pipeline{
		maxQueue: maxQueue,
		logger:   logger,
	}
}

// SetInfo records the native stream format and returns the number of
// samples per frame the runtime should deliver.
func (p *Pipeline) SetInfo(info Info) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = info
	p.policy = PolicyUndecided
	p.decide()
	p.logger.Info("Game audio available", zap.Stringer("info", info))
	return info.SamplesPerFrame
}

func (p *Pipeline) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Push queues one native frame of interleaved samples. Data is copied.
// Frames are dropped until the host has pulled once and announced its
// channel count.
func (p *Pipeline) Push(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hostChannels == 0 || p.info.Channels == 0 {
		return
	}
	p.decide()

	frame := p.remap(samples)
	p.stats.Input += int64(len(samples))

	if len(p.queue) >= p.maxQueue {
		for _, f := range p.queue {
			p.stats.Dropped += int64(len(f))
		}
		for i := range p.queue {
			p.queue[i] = nil
		}
		p.queue = p.queue[:0]
		p.logger.Error("Clearing full audio frame queue", zap.Int("frames", p.maxQueue))
	}
	p.queue = append(p.queue, frame)
	p.starved = false
}

func (p *Pipeline) decide() {
	if p.policy != PolicyUndecided || p.hostChannels == 0 || p.info.Channels == 0 {
		return
	}
	p.policy = decidePolicy(p.info.Channels, p.hostChannels)
	p.logger.Info("Audio channel mapping",
		zap.Int("native", p.info.Channels),
		zap.Int("host", p.hostChannels),
		zap.Stringer("policy", p.policy))
}

func (p *Pipeline) remap(in []float32) []float32 {
	native, host := p.info.Channels, p.hostChannels
	switch p.policy {
	case PolicyPassthrough:
		out := make([]float32, len(in))
		copy(out, in)
		return out
	case PolicyDuplicate:
		out := make([]float32, len(in)*2)
		for i, s := range in {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	case PolicyDecimate:
		out := make([]float32, len(in)/2)
		for i := range out {
			out[i] = in[i*2]
		}
		return out
	default:
		frames := len(in) / native
		out := make([]float32, frames*host)
		for f := 0; f < frames; f++ {
			for c := 0; c < host; c++ {
				out[f*host+c] = in[f*native+c%native]
			}
		}
		return out
	}
}

// Pull fills dst with host-channel interleaved samples and returns how many
// were written; the rest of dst is zeroed. The first call only learns the
// host channel count. Pull never blocks on an empty queue.
func (p *Pipeline) Pull(dst []float32, channels int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hostChannels == 0 {
		p.hostChannels = channels
		p.logger.Info("Creating audio output", zap.Int("channels", channels))
		p.decide()
		clear(dst)
		return 0
	}

	n := 0
	if p.offset < len(p.tail) {
		n = copy(dst, p.tail[p.offset:])
		p.offset += n
	}
	for n < len(dst) && len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		c := copy(dst[n:], frame)
		n += c
		p.tail, p.offset = frame, c
	}
	if p.offset >= len(p.tail) {
		p.tail, p.offset = nil, 0
	}
	p.stats.Output += int64(n)

	if n < len(dst) {
		clear(dst[n:])
		if !p.starved && len(dst) > 0 {
			p.starved = true
			p.logger.Info("Audio queue empty, nothing to pull")
		}
	}
	return n
}

func (p *Pipeline) HostChannels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hostChannels
}

func (p *Pipeline) Policy() Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = len(p.queue)
	return s
}

// Reset drops queued audio and the partially consumed frame. The learned
// host channel count survives since the output device does not change
// between sessions.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.tail, p.offset = nil, 0
	p.info = Info{}
	p.policy = PolicyUndecided
	p.starved = false
	p.stats = Stats{}
}
