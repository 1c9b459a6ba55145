package system

import (
	"fmt"
	"time"

	"github.com/KevinKickass/PinBridge/internal/audio"
	"github.com/KevinKickass/PinBridge/internal/config"
	"go.uber.org/zap"
)

// audioSink pulls the pipeline either through the sound device or through
// a headless drain, optionally recording what it pulls.
type audioSink struct {
	output   *audio.Output
	drain    *audio.Drain
	recorder *audio.Recorder
	logger   *zap.Logger
}

func newAudioSink(cfg config.AudioConfig, p *audio.Pipeline, logger *zap.Logger) (*audioSink, error) {
	s := &audioSink{logger: logger}
	reader := audio.NewReader(p, cfg.Channels)

	if cfg.CapturePath != "" {
		rec, err := audio.NewRecorder(cfg.CapturePath, cfg.SampleRate, cfg.Channels, logger.Named("capture"))
		if err != nil {
			return nil, fmt.Errorf("audio capture: %w", err)
		}
		s.recorder = rec
		reader.Tap(rec.Write)
	}

	if cfg.Output == "oto" {
		out, err := audio.NewOutput(reader, cfg.SampleRate, logger)
		if err == nil {
			s.output = out
			return s, nil
		}
		logger.Warn("Audio device not available, using headless drain", zap.Error(err))
	}

	s.drain = audio.NewDrain(reader, cfg.SampleRate, 10*time.Millisecond, logger)
	s.drain.Start()
	return s, nil
}

func (s *audioSink) Close() error {
	var firstErr error
	if s.output != nil {
		firstErr = s.output.Close()
	}
	if s.drain != nil {
		s.drain.Stop()
	}
	// after the pullers, so no Write races Close
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
