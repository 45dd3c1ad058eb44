package mathutil

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestBigToUint64(t *testing.T) {
	if v, err := BigToUint64(big.NewInt(42)); err != nil || v != 42 {
		t.Errorf("BigToUint64(42) = %d, %v", v, err)
	}
	if v, err := BigToUint64(new(big.Int).SetUint64(math.MaxUint64)); err != nil || v != math.MaxUint64 {
		t.Errorf("BigToUint64(max) = %d, %v", v, err)
	}
	if _, err := BigToUint64(new(big.Int).Lsh(big.NewInt(1), 64)); !errors.Is(err, ErrOverflow) {
		t.Errorf("BigToUint64(2^64) error = %v, want ErrOverflow", err)
	}
	if _, err := BigToUint64(big.NewInt(-1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("BigToUint64(-1) error = %v, want ErrOverflow", err)
	}
}

func TestCheckBits(t *testing.T) {
	tests := []struct {
		v       *big.Int
		bits    int
		wantErr bool
	}{
		{v: big.NewInt(0), bits: 64},
		{v: new(big.Int).SetUint64(math.MaxUint64), bits: 64},
		{v: new(big.Int).Lsh(big.NewInt(1), 64), bits: 64, wantErr: true},
		{v: big.NewInt(-1), bits: 64, wantErr: true},
		{v: new(big.Int).Lsh(big.NewInt(1), 127), bits: 128},
	}
	for _, tt := range tests {
		err := CheckBits(tt.v, tt.bits)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckBits(%s, %d) error = %v, wantErr %v", tt.v, tt.bits, err, tt.wantErr)
		}
	}
}

func TestCeilDiv(t *testing.T) {
	tests := []struct{ a, b, want int64 }{
		{a: 10, b: 5, want: 2},
		{a: 11, b: 5, want: 3},
		{a: 0, b: 3, want: 0},
		{a: 1, b: 3, want: 1},
	}
	for _, tt := range tests {
		if got := CeilDiv(big.NewInt(tt.a), big.NewInt(tt.b)); got.Int64() != tt.want {
			t.Errorf("CeilDiv(%d, %d) = %s, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		v      int64
		factor float64
		want   int64
	}{
		{v: 100, factor: 1.5, want: 150},
		{v: 3, factor: 1.5, want: 5},
		{v: 100, factor: 1, want: 100},
		{v: 100, factor: 0, want: 100},
		{v: 100, factor: math.NaN(), want: 100},
		{v: 7, factor: 2, want: 14},
	}
	for _, tt := range tests {
		if got := Scale(big.NewInt(tt.v), tt.factor); got.Int64() != tt.want {
			t.Errorf("Scale(%d, %v) = %s, want %d", tt.v, tt.factor, got, tt.want)
		}
	}
}
