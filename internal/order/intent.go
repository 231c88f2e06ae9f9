// Package order turns structured function calls from the dialogue service
// into cart mutations.
//
// The remote model never edits the cart directly: it emits function calls
// (add_to_order, remove_from_order, confirm_order) whose JSON arguments are
// parsed here into [Intent] values and handed to a [Sink], the cart
// collaborator owned by the surrounding application.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFunction is returned for function names outside the order
	// vocabulary.
	ErrUnknownFunction = errors.New("order: unknown function")

	// ErrMalformedArguments is returned when function-call arguments cannot be
	// turned into intents.
	ErrMalformedArguments = errors.New("order: malformed function arguments")
)

// Function names understood by [ParseFunctionCall].
const (
	FuncAddToOrder      = "add_to_order"
	FuncRemoveFromOrder = "remove_from_order"
	FuncConfirmOrder    = "confirm_order"
)

// Action is the kind of cart mutation.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionConfirm Action = "confirm"
)

// Intent is a request to mutate the cart.
type Intent struct {
	Action        Action
	ItemName      string
	Quantity      int
	Modifications []string

	// CallID is the function call this intent came from.
	CallID string
}

// Sink applies intents to the cart. Implementations must be safe for
// concurrent use.
type Sink interface {
	ApplyIntent(ctx context.Context, in Intent) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, in Intent) error

// ApplyIntent implements [Sink].
func (f SinkFunc) ApplyIntent(ctx context.Context, in Intent) error { return f(ctx, in) }

type itemArgs struct {
	Name          string   `json:"name"`
	ItemName      string   `json:"item_name"`
	Quantity      *int     `json:"quantity"`
	Modifications []string `json:"modifications"`
}

func (a itemArgs) name() string {
	if a.ItemName != "" {
		return strings.TrimSpace(a.ItemName)
	}
	return strings.TrimSpace(a.Name)
}

type addArgs struct {
	Items []itemArgs `json:"items"`
}

// ParseFunctionCall converts one function call into intents. arguments is the
// JSON argument object. The envelope form {"name": "add_to_order", "items":
// [...]}, where the function name travels inside the arguments, is accepted
// too; name may then be empty.
func ParseFunctionCall(name, arguments string) ([]Intent, error) {
	name, raw, err := unwrap(name, arguments)
	if err != nil {
		return nil, err
	}

	switch name {
	case FuncAddToOrder:
		var args addArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
		}
		if len(args.Items) == 0 {
			return nil, fmt.Errorf("%w: %s: no items", ErrMalformedArguments, name)
		}
		intents := make([]Intent, 0, len(args.Items))
		for i, it := range args.Items {
			in, err := itemIntent(ActionAdd, it)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: item %d: %v", ErrMalformedArguments, name, i, err)
			}
			intents = append(intents, in)
		}
		return intents, nil

	case FuncRemoveFromOrder:
		var args itemArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
		}
		in, err := itemIntent(ActionRemove, args)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
		}
		return []Intent{in}, nil

	case FuncConfirmOrder:
		return []Intent{{Action: ActionConfirm}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
}

func itemIntent(action Action, a itemArgs) (Intent, error) {
	n := a.name()
	if n == "" {
		return Intent{}, errors.New("missing item name")
	}
	qty := 1
	if a.Quantity != nil {
		qty = *a.Quantity
	}
	if qty <= 0 {
		return Intent{}, fmt.Errorf("invalid quantity %d", qty)
	}
	var mods []string
	for _, m := range a.Modifications {
		if m = strings.TrimSpace(m); m != "" {
			mods = append(mods, m)
		}
	}
	return Intent{Action: action, ItemName: n, Quantity: qty, Modifications: mods}, nil
}

// unwrap resolves the function name and the argument object, handling the
// envelope form.
func unwrap(name, arguments string) (string, json.RawMessage, error) {
	raw := json.RawMessage(strings.TrimSpace(arguments))
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var env struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if !knownFunction(env.Name) || (name != "" && name != env.Name) {
		return name, raw, nil
	}

	name = env.Name
	inner := strings.TrimSpace(string(env.Arguments))
	switch {
	case inner == "" || inner == "null":
	case inner[0] == '"':
		var s string
		if err := json.Unmarshal(env.Arguments, &s); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
		}
		raw = json.RawMessage(s)
	default:
		raw = env.Arguments
	}
	return name, raw, nil
}

func knownFunction(name string) bool {
	switch name {
	case FuncAddToOrder, FuncRemoveFromOrder, FuncConfirmOrder:
		return true
	}
	return false
}
