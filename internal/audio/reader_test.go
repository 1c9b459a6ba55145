package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"go.uber.org/zap/zaptest"
)

func TestReaderEncodesFloat32LE(t *testing.T) {
	p := newTestPipeline(t, 2, 2)
	p.Push([]float32{0.5, -0.25})

	r := NewReader(p, 2)
	var tapped []float32
	r.Tap(func(s []float32) { tapped = append(tapped, s...) })

	b := make([]byte, 16)
	n, err := r.Read(b)
	if err != nil || n != 16 {
		t.Fatalf("expected full read, got %d %v", n, err)
	}
	want := []float32{0.5, -0.25, 0, 0}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		if got != w {
			t.Fatalf("sample %d: expected %v, got %v", i, w, got)
		}
	}
	if len(tapped) != 4 {
		t.Fatalf("expected tap to see 4 samples, got %d", len(tapped))
	}
}

func TestRecorderWritesWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	rec, err := NewRecorder(path, 44100, 2, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	rec.Write([]float32{0, 0.5, -0.5, 1, 2, -2})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.NumChans != 2 || dec.SampleRate != 44100 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format %d ch %d Hz %d bit", dec.NumChans, dec.SampleRate, dec.BitDepth)
	}
	want := []int{0, 16384, -16384, 32767, 32767, -32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, buf.Data)
		}
	}
}

func TestDrainPullsQueuedFrames(t *testing.T) {
	p := NewPipeline(DefaultQueueFrames, zaptest.NewLogger(t))
	p.SetInfo(Info{Channels: 1, SampleRate: 1000, SamplesPerFrame: 4})

	r := NewReader(p, 1)
	pulled := make(chan int, 64)
	r.Tap(func(s []float32) {
		select {
		case pulled <- len(s):
		default:
		}
	})

	d := NewDrain(r, 1000, 5*time.Millisecond, zaptest.NewLogger(t))
	d.Start()
	d.Start()
	defer d.Stop()

	select {
	case n := <-pulled:
		if n != 5 {
			t.Fatalf("expected 5 samples per block, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("drain never pulled")
	}

	p.Push(ramp(4))
	deadline := time.After(time.Second)
	for p.Stats().Queued != 0 {
		select {
		case <-pulled:
		case <-deadline:
			t.Fatal("queued frame was not drained")
		}
	}

	d.Stop()
	d.Stop()
}
