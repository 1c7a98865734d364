package lending

import (
	"math"
	"math/big"
	"testing"
)

func TestInterestModelKink(t *testing.T) {
	model := &InterestModel{
		BaseRate: big.NewRat(2, 100),
		Slope1:   big.NewRat(1, 10),
		Slope2:   big.NewRat(1, 1),
		Kink:     big.NewRat(4, 5),
	}
	cases := []struct {
		cash, borrows int64
		borrow        *big.Rat
		supply        *big.Rat
	}{
		{cash: 100, borrows: 0, borrow: big.NewRat(2, 100), supply: new(big.Rat)},
		{cash: 50, borrows: 50, borrow: big.NewRat(7, 100), supply: big.NewRat(7, 200)},
		{cash: 10, borrows: 90, borrow: big.NewRat(1, 5), supply: big.NewRat(9, 50)},
	}
	for _, tc := range cases {
		cash, borrows := big.NewInt(tc.cash), big.NewInt(tc.borrows)
		if got := model.BorrowRate(cash, borrows); got.Cmp(tc.borrow) != 0 {
			t.Fatalf("borrow rate at %d/%d: expected %s, got %s", tc.borrows, tc.cash, tc.borrow, got)
		}
		if got := model.SupplyRate(cash, borrows); got.Cmp(tc.supply) != 0 {
			t.Fatalf("supply rate at %d/%d: expected %s, got %s", tc.borrows, tc.cash, tc.supply, got)
		}
	}
}

func TestNilInterestModelChargesNothing(t *testing.T) {
	var model *InterestModel
	if model.BorrowRate(big.NewInt(1), big.NewInt(1)).Sign() != 0 {
		t.Fatalf("expected zero borrow rate")
	}
	if model.SupplyRate(big.NewInt(1), big.NewInt(1)).Sign() != 0 {
		t.Fatalf("expected zero supply rate")
	}
	if model.Clone() != nil {
		t.Fatalf("expected nil clone")
	}
	if got := NewInterestModel(math.Inf(1), 0, 0, 0).BaseRate; got.Sign() != 0 {
		t.Fatalf("expected non-finite base rate to read as zero, got %s", got)
	}
}
