package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrItemNotInCart is returned when removing an item the cart does not
	// hold.
	ErrItemNotInCart = errors.New("order: item not in cart")

	// ErrEmptyCart is returned when confirming an empty cart.
	ErrEmptyCart = errors.New("order: cart is empty")

	// ErrConfirmed is returned for mutations after confirmation.
	ErrConfirmed = errors.New("order: order already confirmed")
)

var _ Sink = (*Cart)(nil)

// Line is one cart position. Lines with the same item but different
// modifications are kept apart.
type Line struct {
	ItemName      string
	Quantity      int
	Modifications []string
}

func (l Line) key() string {
	mods := slices.Clone(l.Modifications)
	slices.Sort(mods)
	return strings.ToLower(l.ItemName) + "\x00" + strings.ToLower(strings.Join(mods, "\x00"))
}

// Cart is an in-memory [Sink]. The zero value is an empty, usable cart.
type Cart struct {
	// Logger receives one record per applied intent. Nil uses
	// [slog.Default].
	Logger *slog.Logger

	mu        sync.Mutex
	lines     []Line
	confirmed bool
}

// ApplyIntent implements [Sink].
func (c *Cart) ApplyIntent(_ context.Context, in Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.confirmed {
		return ErrConfirmed
	}
	var err error
	switch in.Action {
	case ActionAdd:
		c.add(Line{ItemName: in.ItemName, Quantity: max(in.Quantity, 1), Modifications: in.Modifications})
	case ActionRemove:
		err = c.remove(in.ItemName, max(in.Quantity, 1))
	case ActionConfirm:
		if len(c.lines) == 0 {
			err = ErrEmptyCart
		} else {
			c.confirmed = true
		}
	default:
		err = fmt.Errorf("order: unknown action %q", in.Action)
	}
	if err != nil {
		return err
	}

	c.logger().Info("cart updated",
		"action", in.Action,
		"item", in.ItemName,
		"quantity", in.Quantity,
		"call_id", in.CallID,
		"lines", len(c.lines),
	)
	return nil
}

func (c *Cart) add(l Line) {
	k := l.key()
	for i := range c.lines {
		if c.lines[i].key() == k {
			c.lines[i].Quantity += l.Quantity
			return
		}
	}
	l.Modifications = slices.Clone(l.Modifications)
	c.lines = append(c.lines, l)
}

// remove takes qty units of name, newest lines first.
func (c *Cart) remove(name string, qty int) error {
	found := false
	for i := len(c.lines) - 1; i >= 0 && qty > 0; i-- {
		if !strings.EqualFold(c.lines[i].ItemName, name) {
			continue
		}
		found = true
		n := min(qty, c.lines[i].Quantity)
		c.lines[i].Quantity -= n
		qty -= n
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrItemNotInCart, name)
	}
	c.lines = slices.DeleteFunc(c.lines, func(l Line) bool { return l.Quantity <= 0 })
	return nil
}

// Lines returns a copy of the cart contents in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	for i, l := range c.lines {
		l.Modifications = slices.Clone(l.Modifications)
		out[i] = l
	}
	return out
}

// Confirmed reports whether the order was confirmed.
func (c *Cart) Confirmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// Reset empties the cart for the next guest.
func (c *Cart) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.confirmed = false
}

func (c *Cart) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
