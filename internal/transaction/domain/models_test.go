package domain

import "testing"

func TestPriceTable(t *testing.T) {
	cases := []struct {
		kind    Kind
		amount  int64
		credits int64
	}{
		{KindSingle, 199, 1},
		{KindSubscription, 999, 12},
		{KindTopup, 999, 10},
	}
	for _, tc := range cases {
		price, err := PriceFor(tc.kind)
		if err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		if price.Amount != tc.amount || price.Credits != tc.credits || price.Currency != "USD" {
			t.Fatalf("%s: unexpected price %+v", tc.kind, price)
		}
	}

	if _, err := PriceFor("lifetime"); err != ErrInvalidKind {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusCompleted}:  true,
		{StatusPending, StatusFailed}:     true,
		{StatusCompleted, StatusRefunded}: true,
	}
	all := []Status{StatusPending, StatusCompleted, StatusFailed, StatusRefunded}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}
