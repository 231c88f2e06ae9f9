package sessioncfg

import (
	"fmt"
	"strings"

	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/pkg/protocol"
)

// Descriptor defaults.
const (
	DefaultVoice              = "alloy"
	DefaultTranscriptionModel = "whisper-1"
	DefaultTemperature        = 0.8
	AudioFormatPCM16          = "pcm16"

	kioskMaxTokens  = 500
	serverMaxTokens = 200
)

// DescriptorOptions feed [BuildDescriptor].
type DescriptorOptions struct {
	MenuContext string

	// Context is [ContextKiosk] or [ContextServer]. Anything else is treated
	// as kiosk.
	Context string

	Voice              string
	TranscriptionModel string
	Temperature        float64

	// EnableTools attaches the order function schema.
	EnableTools bool
}

// BuildDescriptor returns a fresh session descriptor. Kiosks use server-side
// voice activity detection and a larger token budget; staff terminals use
// push-to-talk (nil turn detection) and short answers.
func BuildDescriptor(o DescriptorOptions) *protocol.SessionDescriptor {
	if o.Voice == "" {
		o.Voice = DefaultVoice
	}
	if o.TranscriptionModel == "" {
		o.TranscriptionModel = DefaultTranscriptionModel
	}
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}

	d := &protocol.SessionDescriptor{
		Modalities:              []string{"text", "audio"},
		Instructions:            Instructions(o.MenuContext, o.Context),
		Voice:                   o.Voice,
		InputAudioFormat:        AudioFormatPCM16,
		OutputAudioFormat:       AudioFormatPCM16,
		InputAudioTranscription: &protocol.TranscriptionConfig{Model: o.TranscriptionModel},
		Temperature:             o.Temperature,
	}

	if o.Context == ContextServer {
		d.MaxResponseOutputTokens = serverMaxTokens
	} else {
		d.MaxResponseOutputTokens = kioskMaxTokens
		d.TurnDetection = &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			CreateResponse:    true,
		}
	}

	if o.EnableTools {
		d.Tools = OrderTools()
		d.ToolChoice = "auto"
	}
	return d
}

// Instructions builds the system instructions around the menu context.
func Instructions(menuContext, contextTag string) string {
	var b strings.Builder
	if contextTag == ContextServer {
		b.WriteString("You are assisting restaurant staff who are entering an order at a server terminal. ")
		b.WriteString("Keep every answer to one short sentence. ")
	} else {
		b.WriteString("You are a friendly voice assistant taking orders at a self-service restaurant kiosk. ")
		b.WriteString("Greet the guest, help them choose, and keep answers brief and natural. ")
	}
	b.WriteString("Only offer items from the menu below. ")
	b.WriteString("When the guest orders, changes or removes items, call the matching function instead of describing the change. ")
	b.WriteString("Read the order back and call confirm_order only after the guest agrees.\n\n")
	fmt.Fprintf(&b, "Menu:\n%s", strings.TrimSpace(menuContext))
	return b.String()
}

// OrderTools returns the function schema for cart mutations.
func OrderTools() []protocol.Tool {
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "description": "Menu item name exactly as listed"},
			"quantity": map[string]any{"type": "integer", "minimum": 1, "default": 1},
			"modifications": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Requested changes such as \"no onions\"",
			},
		},
		"required": []string{"name"},
	}
	return []protocol.Tool{
		{
			Type:        "function",
			Name:        order.FuncAddToOrder,
			Description: "Add one or more menu items to the guest's order.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": map[string]any{"type": "array", "items": item, "minItems": 1},
				},
				"required": []string{"items"},
			},
		},
		{
			Type:        "function",
			Name:        order.FuncRemoveFromOrder,
			Description: "Remove a menu item from the guest's order.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"item_name": map[string]any{"type": "string"},
					"quantity":  map[string]any{"type": "integer", "minimum": 1, "default": 1},
				},
				"required": []string{"item_name"},
			},
		},
		{
			Type:        "function",
			Name:        order.FuncConfirmOrder,
			Description: "Confirm the order after the guest has agreed to the read-back.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}
