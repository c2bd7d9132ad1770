package main

import (
	"testing"

	"github.com/mwalsh/polyflow/internal/core/markets"
)

func TestMarketRotation(t *testing.T) {
	rot := newMarketRotation()

	first := markets.TokenPair{ConditionID: "0xold", YesToken: "y1", NoToken: "n1"}
	if _, rotated := rot.advance("btc", first); rotated {
		t.Error("first discovery must not rotate")
	}
	if _, rotated := rot.advance("btc", first); rotated {
		t.Error("same market must not rotate")
	}

	next := markets.TokenPair{ConditionID: "0xnew", YesToken: "y2", NoToken: "n2"}
	outgoing, rotated := rot.advance("btc", next)
	if !rotated {
		t.Fatal("new condition id should rotate")
	}
	if outgoing.ConditionID != "0xold" || outgoing.YesToken != "y1" || outgoing.NoToken != "n1" {
		t.Errorf("outgoing = %+v, want the previous market", outgoing)
	}

	// Symbols rotate independently.
	if _, rotated := rot.advance("eth", next); rotated {
		t.Error("another symbol's first discovery must not rotate")
	}
	if _, rotated := rot.advance("btc", next); rotated {
		t.Error("rotation must surface the outgoing market only once")
	}
}
