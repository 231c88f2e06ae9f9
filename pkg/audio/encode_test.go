package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/voxorder/pkg/audio"
)

func TestEncodePCM16(t *testing.T) {
	t.Parallel()
	pcm := audio.EncodePCM16([]float32{0, 1, -1, 2, -2, 0.5, float32(math.NaN())})
	want := []int16{0, 32767, -32768, 32767, -32768, 16383, 0}
	if len(pcm) != len(want)*2 {
		t.Fatalf("got %d bytes, want %d", len(pcm), len(want)*2)
	}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestDecodePCM16_IgnoresOddByte(t *testing.T) {
	t.Parallel()
	pcm := append(audio.EncodePCM16([]float32{0.25, -0.25}), 0x7f)
	got := audio.DecodePCM16(pcm)
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	if math.Abs(float64(got[0])-0.25) > 0.001 || math.Abs(float64(got[1])+0.25) > 0.001 {
		t.Errorf("decoded %v; want ≈[0.25 -0.25]", got)
	}
}

func TestEncodedFrame_Base64(t *testing.T) {
	t.Parallel()
	ef := audio.EncodedFrame{Data: audio.EncodePCM16(make([]float32, 480)), SampleRate: 24000}
	raw, err := base64.StdEncoding.DecodeString(ef.Base64())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 960 {
		t.Errorf("decoded %d bytes, want 960", len(raw))
	}
	if ef.Duration().Milliseconds() != 20 {
		t.Errorf("Duration = %v; want 20ms", ef.Duration())
	}
	if audio.EncodeBase64(ef.Data) != ef.Base64() {
		t.Error("EncodeBase64 and Base64 disagree")
	}
}
