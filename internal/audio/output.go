package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// oto allows a single context per process.
var (
	otoCtx      *oto.Context
	otoInitOnce sync.Once
	otoInitErr  error
)

func ensureOtoContext(sampleRate, channels int) (*oto.Context, error) {
	otoInitOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   50 * time.Millisecond,
		}
		var ready chan struct{}
		otoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr != nil {
			return
		}
		<-ready
	})
	return otoCtx, otoInitErr
}

// Output plays a reader through the system audio device. Install any tap on
// the reader before NewOutput; playback starts at once.
type Output struct {
	player *oto.Player
	reader *Reader
	logger *zap.Logger
}

func NewOutput(reader *Reader, sampleRate int, logger *zap.Logger) (*Output, error) {
	channels := reader.channels
	ctx, err := ensureOtoContext(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("oto audio not available: %w", err)
	}

	player := ctx.NewPlayer(reader)
	player.Play()

	logger.Info("Audio output started",
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels))

	return &Output{player: player, reader: reader, logger: logger}, nil
}

func (o *Output) Reader() *Reader {
	return o.reader
}

func (o *Output) Close() error {
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil
	return err
}
