package device

import (
	"errors"
	"testing"

	"github.com/Wyydra/pulse/internal/core/domain"
)

func TestSampleRingReturnsLatestWindow(t *testing.T) {
	r := &sampleRing{}
	r.push([]float64{1, 2, 3})
	r.push([]float64{4, 5})

	buf := make([]float64, 3)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d samples, want 3", n)
	}
	want := []float64{3, 4, 5}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("got %v, want %v", buf, want)
		}
	}
}

func TestSampleRingShortHistory(t *testing.T) {
	r := &sampleRing{}
	r.push([]float64{0.5})

	buf := make([]float64, 8)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 || buf[0] != 0.5 {
		t.Fatalf("got %d samples %v, want [0.5]", n, buf[:n])
	}
}

func TestSampleRingWraps(t *testing.T) {
	r := &sampleRing{}
	for i := 0; i < ringSize+10; i++ {
		r.push([]float64{float64(i)})
	}
	buf := make([]float64, 2)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != float64(ringSize+8) || buf[1] != float64(ringSize+9) {
		t.Fatalf("got %v, want last two samples", buf)
	}
}

func TestSampleRingClosed(t *testing.T) {
	r := &sampleRing{}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Read(make([]float64, 4)); err == nil {
		t.Fatal("expected error reading a closed analyser")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"device or resource busy", domain.ErrDeviceBusy},
		{"Permission denied", domain.ErrPermissionDenied},
		{"failed to find the best driver that fits the constraints", domain.ErrDeviceUnavailable},
	}
	for _, c := range cases {
		err := classify(errors.New(c.msg))
		if !errors.Is(err, c.want) {
			t.Errorf("classify(%q) = %v, want %v", c.msg, err, c.want)
		}
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
