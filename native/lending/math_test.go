package lending

import (
	"math/big"
	"testing"
)

func TestRateFactorExactRate(t *testing.T) {
	got := rateFactor(big.NewRat(1, 10), secondsPerYear)
	want := mustBigInt("1100000000000000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := rateFactor(big.NewRat(1, 10), 0); got.Cmp(ray) != 0 {
		t.Fatalf("expected ray for zero elapsed, got %s", got)
	}
}

func TestRatToRayRoundsHalfUp(t *testing.T) {
	half := new(big.Rat).SetFrac(big.NewInt(3), new(big.Int).Mul(big.NewInt(2), ray))
	if got := ratToRay(half); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected 1.5 ray units to round to 2, got %s", got)
	}
	below := new(big.Rat).SetFrac(big.NewInt(4), new(big.Int).Mul(big.NewInt(3), ray))
	if got := ratToRay(below); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected 1.33 ray units to round to 1, got %s", got)
	}
}
