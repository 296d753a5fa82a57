// Package inventory provides the player inventory and its built-in tools.
//
// The inventory is an ordered multiset of item identifiers: duplicates are
// allowed, insertion order is preserved, and removal takes the first matching
// occurrence. Three tools are exported via [Tools]:
//   - "add_inventory_item"    — adds one item.
//   - "remove_inventory_item" — removes the first occurrence of one item.
//   - "list_inventory"        — lists the current contents.
//
// Tool handlers report item-level failures (removing something the player
// does not carry) as success=false results rather than errors, so the model
// can narrate the miss and move on.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fableloom/fableloom/internal/tools"
	"github.com/fableloom/fableloom/pkg/types"
)

// Inventory is an ordered multiset of item identifiers. Safe for concurrent
// use.
type Inventory struct {
	mu    sync.Mutex
	items []string
}

// New returns an empty inventory.
func New() *Inventory {
	return &Inventory{}
}

// Add appends item to the inventory. Duplicates are allowed.
func (inv *Inventory) Add(item string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items = append(inv.items, item)
}

// Remove deletes the first occurrence of item and reports whether it was
// present.
func (inv *Inventory) Remove(item string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for i, it := range inv.items {
		if it == item {
			inv.items = append(inv.items[:i], inv.items[i+1:]...)
			return true
		}
	}
	return false
}

// Items returns a copy of the inventory in insertion order.
func (inv *Inventory) Items() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]string, len(inv.items))
	copy(out, inv.items)
	return out
}

// Len returns the number of items held, counting duplicates.
func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.items)
}

// Clear removes all items.
func (inv *Inventory) Clear() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items = nil
}

// Replace swaps the inventory contents for items, preserving the given order.
// Used when restoring a saved game.
func (inv *Inventory) Replace(items []string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items = make([]string, len(items))
	copy(inv.items, items)
}

// itemArgs is the JSON-decoded input for add_inventory_item and
// remove_inventory_item.
type itemArgs struct {
	// Item is the item identifier to add or remove.
	Item string `json:"item"`
}

// mutationResult is the JSON-encoded output of the add and remove tools.
type mutationResult struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Item      string   `json:"item,omitempty"`
	Inventory []string `json:"inventory"`
}

// listResult is the JSON-encoded output of list_inventory.
type listResult struct {
	Items []string `json:"items"`
	Count int      `json:"count"`
}

// addHandler implements "add_inventory_item".
func addHandler(inv *Inventory) func(ctx context.Context, args string) (string, error) {
	return func(_ context.Context, args string) (string, error) {
		var a itemArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("inventory: failed to parse arguments: %w", err)
		}
		if a.Item == "" {
			return "", fmt.Errorf("inventory: item must not be empty")
		}

		inv.Add(a.Item)
		return encodeResult(mutationResult{
			Success:   true,
			Message:   fmt.Sprintf("Added %s to inventory.", a.Item),
			Item:      a.Item,
			Inventory: inv.Items(),
		})
	}
}

// removeHandler implements "remove_inventory_item". Removing an item that is
// not held returns success=false with the item field omitted.
func removeHandler(inv *Inventory) func(ctx context.Context, args string) (string, error) {
	return func(_ context.Context, args string) (string, error) {
		var a itemArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("inventory: failed to parse arguments: %w", err)
		}
		if a.Item == "" {
			return "", fmt.Errorf("inventory: item must not be empty")
		}

		if !inv.Remove(a.Item) {
			return encodeResult(mutationResult{
				Success:   false,
				Message:   fmt.Sprintf("%s is not in the inventory.", a.Item),
				Inventory: inv.Items(),
			})
		}
		return encodeResult(mutationResult{
			Success:   true,
			Message:   fmt.Sprintf("Removed %s from inventory.", a.Item),
			Item:      a.Item,
			Inventory: inv.Items(),
		})
	}
}

// listHandler implements "list_inventory".
func listHandler(inv *Inventory) func(ctx context.Context, args string) (string, error) {
	return func(_ context.Context, _ string) (string, error) {
		items := inv.Items()
		return encodeResult(listResult{Items: items, Count: len(items)})
	}
}

func encodeResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("inventory: failed to encode result: %w", err)
	}
	return string(out), nil
}

// Tools returns the built-in inventory tools bound to inv, ready for
// registration with a [tools.Registry].
func Tools(inv *Inventory) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "add_inventory_item",
				Description: "Add an item to the player's inventory. Call this whenever the player picks up, receives, or otherwise gains an item.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item": map[string]any{
							"type":        "string",
							"description": "The item to add, e.g. brass lantern",
						},
					},
					"required": []string{"item"},
				},
			},
			Handler: addHandler(inv),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "remove_inventory_item",
				Description: "Remove an item from the player's inventory. Call this whenever the player drops, uses up, gives away, or loses an item.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item": map[string]any{
							"type":        "string",
							"description": "The item to remove, e.g. brass lantern",
						},
					},
					"required": []string{"item"},
				},
			},
			Handler: removeHandler(inv),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "list_inventory",
				Description: "List everything the player currently carries.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			Handler: listHandler(inv),
		},
	}
}
