package model

import "testing"

func TestCentsFromFloat(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Cents
	}{
		{
			name: "whole amount",
			in:   100,
			want: 10000,
		},
		{
			name: "binary fraction without exact float representation",
			in:   19.99,
			want: 1999,
		},
		{
			name: "single cent",
			in:   0.01,
			want: 1,
		},
		{
			name: "zero",
			in:   0,
			want: 0,
		},
		{
			name: "large amount",
			in:   1234567.89,
			want: 123456789,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CentsFromFloat(tt.in)
			if got != tt.want {
				t.Fatalf("CentsFromFloat(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestCentsFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{19.99, 0.01, 0.1, 33.33, 100} {
		if got := CentsFromFloat(f).Float(); got != f {
			t.Fatalf("round trip of %v = %v", f, got)
		}
	}
}

func TestSplitEven(t *testing.T) {
	tests := []struct {
		name  string
		total Cents
		n     int
		want  []Cents
	}{
		{
			name:  "exact division",
			total: 300000,
			n:     3,
			want:  []Cents{100000, 100000, 100000},
		},
		{
			name:  "remainder goes to last part",
			total: 100000,
			n:     3,
			want:  []Cents{33333, 33333, 33334},
		},
		{
			name:  "single part",
			total: 100,
			n:     1,
			want:  []Cents{100},
		},
		{
			name:  "more parts than cents",
			total: 2,
			n:     3,
			want:  []Cents{0, 0, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.total.SplitEven(tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitEven(%d) returned %d parts, want %d", tt.n, len(got), len(tt.want))
			}
			var sum Cents
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("part %d = %d, want %d", i, got[i], tt.want[i])
				}
				sum += got[i]
			}
			if sum != tt.total {
				t.Fatalf("parts sum to %d, want %d", sum, tt.total)
			}
		})
	}
}

func TestSplitEvenInvalidCount(t *testing.T) {
	if got := Cents(100).SplitEven(0); got != nil {
		t.Fatalf("SplitEven(0) = %v, want nil", got)
	}
	if got := Cents(100).SplitEven(-1); got != nil {
		t.Fatalf("SplitEven(-1) = %v, want nil", got)
	}
}
