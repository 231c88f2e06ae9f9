package order_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxorder/internal/order"
)

var testMenu = []string{"Soul Bowl", "Greens Bowl", "Lemonade"}

func TestMenuMatcher_ExactAfterNormalisation(t *testing.T) {
	t.Parallel()

	m := order.NewMenuMatcher(testMenu)
	for _, spoken := range []string{"soul bowl", "SOUL BOWLS", "Soul-Bowl!"} {
		name, score, ok := m.Match(spoken)
		if !ok || name != "Soul Bowl" || score != 1 {
			t.Errorf("Match(%q) = (%q, %f, %v), want (Soul Bowl, 1, true)", spoken, name, score, ok)
		}
	}
}

func TestMenuMatcher_PhoneticMatch(t *testing.T) {
	t.Parallel()

	m := order.NewMenuMatcher(testMenu)
	name, score, ok := m.Match("sole bowl")
	if !ok {
		t.Fatalf("Match(%q): ok=false, want true", "sole bowl")
	}
	if name != "Soul Bowl" {
		t.Errorf("Match(%q) = %q, want Soul Bowl", "sole bowl", name)
	}
	if score < 0.7 || score >= 1 {
		t.Errorf("score = %f, want in [0.7, 1)", score)
	}
}

func TestMenuMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := order.NewMenuMatcher(testMenu)
	name, score, ok := m.Match("pizza")
	if ok {
		t.Fatalf("Match(%q) matched %q", "pizza", name)
	}
	if name != "pizza" || score != 0 {
		t.Errorf("Match(%q) = (%q, %f), want input unchanged and score 0", "pizza", name, score)
	}
}

func TestMenuMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	if _, _, ok := order.NewMenuMatcher(nil).Match("soul bowl"); ok {
		t.Error("empty menu matched")
	}
	if _, _, ok := order.NewMenuMatcher(testMenu).Match("  ?! "); ok {
		t.Error("blank input matched")
	}
}

func TestMenuMatcher_ItemsDeduplicated(t *testing.T) {
	t.Parallel()

	m := order.NewMenuMatcher([]string{"Soul Bowl", " soul bowl ", "", "Lemonade"})
	if got := m.Items(); !slices.Equal(got, []string{"Soul Bowl", "Lemonade"}) {
		t.Errorf("Items() = %v", got)
	}
}

func TestMenuMatcher_Canonicalize(t *testing.T) {
	t.Parallel()

	m := order.NewMenuMatcher(testMenu)
	in := m.Canonicalize(order.Intent{Action: order.ActionAdd, ItemName: "soul bowls", Quantity: 2})
	if in.ItemName != "Soul Bowl" || in.Quantity != 2 {
		t.Errorf("Canonicalize = %+v", in)
	}
	conf := m.Canonicalize(order.Intent{Action: order.ActionConfirm})
	if conf.ItemName != "" {
		t.Errorf("confirm intent gained item %q", conf.ItemName)
	}

	var nilMatcher *order.MenuMatcher
	raw := order.Intent{Action: order.ActionAdd, ItemName: "sole bowl"}
	if got := nilMatcher.Canonicalize(raw); got.ItemName != "sole bowl" {
		t.Errorf("nil matcher rewrote name to %q", got.ItemName)
	}
}

func TestParseMenuItems(t *testing.T) {
	t.Parallel()

	menu := "Today's menu:\n- Soul Bowl ($12.99)\n- Greens Bowl - kale, quinoa\n* Lemonade: fresh squeezed\n• Iced Tea $3\nAsk about specials.\n"
	got := order.ParseMenuItems(menu)
	want := []string{"Soul Bowl", "Greens Bowl", "Lemonade", "Iced Tea"}
	if !slices.Equal(got, want) {
		t.Errorf("ParseMenuItems = %v, want %v", got, want)
	}
}
