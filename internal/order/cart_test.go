package order_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxorder/internal/order"
)

func apply(t *testing.T, c *order.Cart, in order.Intent) error {
	t.Helper()
	return c.ApplyIntent(context.Background(), in)
}

func TestCart_AddMergesSameLine(t *testing.T) {
	t.Parallel()

	var c order.Cart
	_ = apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "Soul Bowl", Quantity: 2})
	_ = apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "soul bowl", Quantity: 1})
	_ = apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "Soul Bowl", Quantity: 1, Modifications: []string{"no onions"}})

	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2: %+v", len(lines), lines)
	}
	if lines[0].Quantity != 3 {
		t.Errorf("plain line quantity = %d, want 3", lines[0].Quantity)
	}
	if !slices.Equal(lines[1].Modifications, []string{"no onions"}) {
		t.Errorf("modified line = %+v", lines[1])
	}
}

func TestCart_Remove(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		remove  order.Intent
		want    int
		wantErr error
	}{
		{"one of three", order.Intent{Action: order.ActionRemove, ItemName: "Lemonade", Quantity: 1}, 2, nil},
		{"all of them", order.Intent{Action: order.ActionRemove, ItemName: "lemonade", Quantity: 5}, 0, nil},
		{"missing item", order.Intent{Action: order.ActionRemove, ItemName: "Green Salad", Quantity: 1}, 3, order.ErrItemNotInCart},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var c order.Cart
			_ = apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "Lemonade", Quantity: 3})

			err := apply(t, &c, tc.remove)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			got := 0
			for _, l := range c.Lines() {
				got += l.Quantity
			}
			if got != tc.want {
				t.Errorf("remaining = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCart_Confirm(t *testing.T) {
	t.Parallel()

	var c order.Cart
	if err := apply(t, &c, order.Intent{Action: order.ActionConfirm}); !errors.Is(err, order.ErrEmptyCart) {
		t.Fatalf("confirm empty: err = %v, want ErrEmptyCart", err)
	}

	_ = apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "Soul Bowl", Quantity: 1})
	if err := apply(t, &c, order.Intent{Action: order.ActionConfirm}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !c.Confirmed() {
		t.Error("Confirmed() = false after confirm")
	}
	if err := apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "Lemonade", Quantity: 1}); !errors.Is(err, order.ErrConfirmed) {
		t.Errorf("add after confirm: err = %v, want ErrConfirmed", err)
	}

	c.Reset()
	if c.Confirmed() || len(c.Lines()) != 0 {
		t.Error("Reset did not clear the cart")
	}
}

func TestCart_LinesIsACopy(t *testing.T) {
	t.Parallel()

	var c order.Cart
	_ = apply(t, &c, order.Intent{Action: order.ActionAdd, ItemName: "Soul Bowl", Quantity: 1, Modifications: []string{"extra rice"}})

	lines := c.Lines()
	lines[0].Quantity = 99
	lines[0].Modifications[0] = "changed"

	again := c.Lines()
	if again[0].Quantity != 1 || again[0].Modifications[0] != "extra rice" {
		t.Errorf("cart mutated through Lines(): %+v", again[0])
	}
}
