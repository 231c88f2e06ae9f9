package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxorder/pkg/audio"
)

func TestFramer_ExactMultiple(t *testing.T) {
	t.Parallel()
	const size, n = 480, 4
	f := audio.NewFramer(size)

	frames := f.Write(make([]float32, size*n))
	if len(frames) != n {
		t.Fatalf("expected %d frames, got %d", n, len(frames))
	}
	for i, fr := range frames {
		if len(fr) != size {
			t.Errorf("frame %d: got %d samples, want %d", i, len(fr), size)
		}
	}
	if f.Flush() != nil {
		t.Error("expected no remainder after exact multiple")
	}
}

func TestFramer_RemainderOnlyOnFlush(t *testing.T) {
	t.Parallel()
	f := audio.NewFramer(100)

	if frames := f.Write(make([]float32, 60)); len(frames) != 0 {
		t.Fatalf("expected no frames yet, got %d", len(frames))
	}
	frames := f.Write(make([]float32, 70))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if f.Buffered() != 30 {
		t.Fatalf("Buffered = %d; want 30", f.Buffered())
	}

	tail := f.Flush()
	if len(tail) != 30 {
		t.Fatalf("flush returned %d samples, want 30", len(tail))
	}
	if f.Buffered() != 0 || f.Flush() != nil {
		t.Error("flush should empty the buffer")
	}
}

func TestFramer_PreservesOrder(t *testing.T) {
	t.Parallel()
	f := audio.NewFramer(3)
	var got []float32
	for _, chunk := range [][]float32{{1, 2}, {3, 4, 5, 6, 7}, {8}} {
		for _, fr := range f.Write(chunk) {
			got = append(got, fr...)
		}
	}
	got = append(got, f.Flush()...)
	for i, v := range got {
		if v != float32(i+1) {
			t.Fatalf("sample %d = %v; want %d", i, v, i+1)
		}
	}
}

func TestFramer_Reset(t *testing.T) {
	t.Parallel()
	f := audio.NewFramer(10)
	f.Write(make([]float32, 5))
	f.Reset()
	if f.Buffered() != 0 {
		t.Errorf("Buffered after Reset = %d", f.Buffered())
	}
}

func TestFrameSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		rate    int
		d       time.Duration
		want    int
		wantErr bool
	}{
		{"20ms at 24kHz", 24000, 20 * time.Millisecond, 480, false},
		{"40ms at 16kHz", 16000, 40 * time.Millisecond, 640, false},
		{"too short", 24000, 10 * time.Millisecond, 0, true},
		{"too long", 24000, 50 * time.Millisecond, 0, true},
		{"bad rate", 0, 20 * time.Millisecond, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := audio.FrameSize(tc.rate, tc.d)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v; wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("FrameSize = %d; want %d", got, tc.want)
			}
		})
	}
}
