package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voxorder/pkg/audio"
)

func interleave(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestDownmixPCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pcm      []byte
		channels int
		want     []int16
	}{
		{"mono passthrough", interleave(1, 2, 3), 1, []int16{1, 2, 3}},
		{"stereo average", interleave(100, 300, -100, -300), 2, []int16{200, -200}},
		{"stereo extremes", interleave(32767, 32767, -32768, -32768), 2, []int16{32767, -32768}},
		{"partial frame dropped", append(interleave(10, 20), 0x01, 0x00), 2, []int16{15}},
		{"four channels", interleave(4, 8, 12, 16), 4, []int16{10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.DownmixPCM16(tc.pcm, tc.channels)
			if tc.channels <= 1 {
				if !bytes.Equal(got, tc.pcm) {
					t.Fatalf("mono input changed")
				}
				return
			}
			if len(got) != len(tc.want)*2 {
				t.Fatalf("len = %d bytes, want %d", len(got), len(tc.want)*2)
			}
			for i, w := range tc.want {
				if s := int16(binary.LittleEndian.Uint16(got[i*2:])); s != w {
					t.Errorf("sample %d = %d, want %d", i, s, w)
				}
			}
		})
	}
}

func TestReaderDevice_DownmixesStereo(t *testing.T) {
	t.Parallel()

	// 20ms of 16kHz stereo: 320 frames, left 0.5 and right -0.5.
	stereo := make([]int16, 0, 640)
	for range 320 {
		stereo = append(stereo, 16384, -16384)
	}
	dev := &audio.ReaderDevice{R: bytes.NewReader(interleave(stereo...)), SampleRate: 16000, Channels: 2, Tick: 20 * time.Millisecond}

	stream, err := dev.Open(context.Background(), audio.DefaultConstraints())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	got := make(chan audio.Frame, 4)
	if err := stream.Start(func(f audio.Frame) { got <- f }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case f := <-got:
		if len(f.Samples) != 320 {
			t.Fatalf("samples = %d, want 320 mono samples", len(f.Samples))
		}
		for i, s := range f.Samples {
			if s != 0 {
				t.Fatalf("sample %d = %v, want 0 after averaging", i, s)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}
