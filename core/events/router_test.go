package events

import (
	"math/big"
	"testing"

	"lpvault/crypto"
)

func TestRouterDeleverageEvent(t *testing.T) {
	borrower := crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20))
	evt := Render(RouterDeleverage{
		Market:   " uni-weth ",
		Borrower: borrower,
		Shares:   big.NewInt(10),
		RepaidA:  big.NewInt(7),
		RefundB:  big.NewInt(3),
	})
	if evt.Type != TypeRouterDeleverage {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["market"] != "uni-weth" {
		t.Fatalf("unexpected market %q", evt.Attributes["market"])
	}
	if evt.Attributes["borrower"] != borrower.String() {
		t.Fatalf("unexpected borrower %s", evt.Attributes["borrower"])
	}
	if evt.Attributes["repaidA"] != "7" || evt.Attributes["refundB"] != "3" || evt.Attributes["lp"] != "0" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

type recordingEmitter struct{ seen []string }

func (r *recordingEmitter) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestMultiEmitterAndRender(t *testing.T) {
	first, second := &recordingEmitter{}, &recordingEmitter{}
	MultiEmitter{first, nil, second}.Emit(bareEvent{})
	if len(first.seen) != 1 || len(second.seen) != 1 {
		t.Fatalf("expected fan out, got %v %v", first.seen, second.seen)
	}
	evt := Render(bareEvent{})
	if evt.Type != "bare" || len(evt.Attributes) != 0 {
		t.Fatalf("unexpected render %+v", evt)
	}
}
