package audio

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Drain pulls from a pipeline at real-time rate without an audio device,
// so the queue keeps moving on headless hosts.
type Drain struct {
	reader   *Reader
	interval time.Duration
	block    int
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewDrain(reader *Reader, sampleRate int, interval time.Duration, logger *zap.Logger) *Drain {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	block := int(float64(sampleRate)*interval.Seconds()) * reader.channels
	return &Drain{
		reader:   reader,
		interval: interval,
		block:    block,
		logger:   logger,
	}
}

func (d *Drain) Reader() *Reader {
	return d.reader
}

func (d *Drain) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopChan = make(chan struct{})
	d.wg.Add(1)
	go d.loop(d.stopChan)
	d.logger.Info("Headless audio drain started", zap.Duration("interval", d.interval))
}

func (d *Drain) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopChan)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Drain) loop(stop <-chan struct{}) {
	defer d.wg.Done()

	buf := make([]byte, d.block*4)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.reader.Read(buf)
		}
	}
}
