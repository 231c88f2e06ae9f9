package audio

import "math"

// Default energy VAD parameters.
const (
	DefaultVADThreshold = 0.02
	DefaultVADWindow    = 5
)

// EnergyDetector is a root-mean-square voice-activity detector. It keeps a
// fixed-length sliding window of recent frame energies; a frame is flagged as
// voice when either its own energy or the window average exceeds the
// threshold. The window average gives a short hangover across brief pauses.
// Digital silence (every sample zero) is never voice.
//
// Not safe for concurrent use; the pipeline drives it from one callback.
type EnergyDetector struct {
	threshold float64
	window    []float64
	next      int
	filled    int
	sum       float64
}

// NewEnergyDetector returns a detector with the given RMS threshold (0–1) and
// window length in frames. Non-positive values fall back to defaults.
func NewEnergyDetector(threshold float64, window int) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	if window <= 0 {
		window = DefaultVADWindow
	}
	return &EnergyDetector{
		threshold: threshold,
		window:    make([]float64, window),
	}
}

// Threshold returns the configured RMS threshold.
func (d *EnergyDetector) Threshold() float64 { return d.threshold }

// SetThreshold changes the RMS threshold for subsequent frames.
func (d *EnergyDetector) SetThreshold(threshold float64) {
	if threshold > 0 {
		d.threshold = threshold
	}
}

// Process computes the RMS energy of frame, pushes it into the window and
// returns the energy together with the voice decision.
func (d *EnergyDetector) Process(frame []float32) (float64, bool) {
	rms := RMS(frame)

	d.sum -= d.window[d.next]
	d.window[d.next] = rms
	d.sum += rms
	d.next = (d.next + 1) % len(d.window)
	if d.filled < len(d.window) {
		d.filled++
	}

	if rms == 0 {
		return 0, false
	}
	avg := d.sum / float64(d.filled)
	return rms, math.Max(rms, avg) > d.threshold
}

// Reset clears the energy window. Called whenever recording restarts.
func (d *EnergyDetector) Reset() {
	clear(d.window)
	d.next = 0
	d.filled = 0
	d.sum = 0
}

// RMS returns the root-mean-square amplitude of samples (0 for an empty slice).
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var acc float64
	for _, s := range samples {
		v := float64(s)
		acc += v * v
	}
	return math.Sqrt(acc / float64(len(samples)))
}
