package events

import (
	"bytes"
	"math/big"
	"testing"

	"lpvault/crypto"
)

func TestTokenSupplyEvent(t *testing.T) {
	holder := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x04}, 20))
	evt := TokenSupply{
		Token:   "uni-weth-lp",
		Account: holder,
		Total:   big.NewInt(5000),
		Delta:   big.NewInt(250),
	}.Event()
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["token"] != "UNI-WETH-LP" {
		t.Fatalf("unexpected token attr: %s", evt.Attributes["token"])
	}
	if evt.Attributes["total"] != "5000" || evt.Attributes["delta"] != "250" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["reason"] != SupplyReasonMint || evt.Attributes["account"] != holder.String() {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}

	burn := TokenSupply{Token: "WETH", Delta: big.NewInt(-7)}.Event()
	if burn.Attributes["reason"] != SupplyReasonBurn || burn.Attributes["delta"] != "-7" || burn.Attributes["total"] != "0" {
		t.Fatalf("unexpected burn attrs: %+v", burn.Attributes)
	}
	if _, ok := burn.Attributes["account"]; ok {
		t.Fatalf("unexpected account attr: %+v", burn.Attributes)
	}
}
