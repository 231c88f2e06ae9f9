package audio

// Resampler converts mono float audio from one sample rate to another. It is a
// thin value wrapper around [Resample]; it keeps no state between calls, so a
// single Resampler may be shared freely.
type Resampler struct {
	From int
	To   int
}

// Process resamples samples from r.From to r.To.
func (r Resampler) Process(samples []float32) []float32 {
	return Resample(samples, r.From, r.To)
}

// Ratio returns the output/input length ratio (e.g. 1.5 for 16 kHz → 24 kHz).
func (r Resampler) Ratio() float64 {
	if r.From <= 0 || r.To <= 0 {
		return 1
	}
	return float64(r.To) / float64(r.From)
}

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation. If the rates are equal (or either is non-positive) the input
// slice is returned unchanged. The output holds floor(len*dst/src) samples;
// nothing is carried over between calls.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	n := len(samples)
	if n == 0 {
		return samples
	}
	dstLen := int(int64(n) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		pos := float64(i) * step
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < n {
			s1 = samples[idx+1]
		}
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}
