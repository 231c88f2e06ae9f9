package audio

// DownmixPCM16 averages interleaved little-endian int16 PCM with the given
// channel count into mono. With channels <= 1 the input is returned
// unchanged. A trailing partial frame is dropped.
func DownmixPCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		base := i * frameBytes
		for ch := range channels {
			j := base + ch*2
			sum += int32(int16(pcm[j]) | int16(pcm[j+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}
