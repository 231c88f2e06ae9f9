package audio

import (
	"fmt"
	"time"
)

// Frame duration bounds accepted by [FrameSize].
const (
	MinFrameDuration = 20 * time.Millisecond
	MaxFrameDuration = 40 * time.Millisecond
)

// FrameSize returns the number of samples in one frame of duration d at rate.
// d must lie within [MinFrameDuration, MaxFrameDuration].
func FrameSize(rate int, d time.Duration) (int, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("audio: invalid sample rate %d", rate)
	}
	if d < MinFrameDuration || d > MaxFrameDuration {
		return 0, fmt.Errorf("audio: frame duration %v outside [%v, %v]", d, MinFrameDuration, MaxFrameDuration)
	}
	return int(int64(rate) * int64(d) / int64(time.Second)), nil
}

// Framer slices a continuous sample stream into fixed-size frames. Samples
// that do not fill a whole frame are kept until the next Write or returned by
// Flush. Not safe for concurrent use.
type Framer struct {
	size int
	buf  []float32
}

// NewFramer returns a Framer emitting frames of size samples. size must be
// positive.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = 1
	}
	return &Framer{size: size, buf: make([]float32, 0, size*2)}
}

// Size returns the configured frame length in samples.
func (f *Framer) Size() int { return f.size }

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Write appends samples and returns every complete frame now available. Each
// returned frame is a freshly allocated slice of exactly Size samples.
func (f *Framer) Write(samples []float32) [][]float32 {
	f.buf = append(f.buf, samples...)
	if len(f.buf) < f.size {
		return nil
	}

	n := len(f.buf) / f.size
	frames := make([][]float32, 0, n)
	for i := range n {
		frame := make([]float32, f.size)
		copy(frame, f.buf[i*f.size:(i+1)*f.size])
		frames = append(frames, frame)
	}

	rest := copy(f.buf, f.buf[n*f.size:])
	f.buf = f.buf[:rest]
	return frames
}

// Flush returns the buffered remainder as a short frame, or nil when nothing
// is buffered, and empties the buffer.
func (f *Framer) Flush() []float32 {
	if len(f.buf) == 0 {
		return nil
	}
	out := make([]float32, len(f.buf))
	copy(out, f.buf)
	f.buf = f.buf[:0]
	return out
}

// Reset drops any buffered samples.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
