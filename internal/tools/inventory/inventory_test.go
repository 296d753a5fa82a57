package inventory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fableloom/fableloom/internal/tools"
)

// execute runs the named inventory tool through a registry, which is how the
// agent loop reaches it in production.
func execute(t *testing.T, r *tools.Registry, name, args string) string {
	t.Helper()
	out, err := r.Execute(context.Background(), name, args)
	if err != nil {
		t.Fatalf("Execute(%s) failed: %v", name, err)
	}
	return out
}

// ---- multiset semantics ----

func TestInventory_OrderedMultiset(t *testing.T) {
	t.Parallel()

	inv := New()
	inv.Add("rope")
	inv.Add("torch")
	inv.Add("rope")

	got := inv.Items()
	want := []string{"rope", "torch", "rope"}
	if len(got) != len(want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Items() = %v, want %v", got, want)
		}
	}

	// Remove takes the first occurrence only.
	if !inv.Remove("rope") {
		t.Fatal("Remove(rope) = false, want true")
	}
	got = inv.Items()
	if len(got) != 2 || got[0] != "torch" || got[1] != "rope" {
		t.Errorf("after removing first rope: %v, want [torch rope]", got)
	}

	if inv.Remove("sword") {
		t.Error("Remove(sword) = true for an item never added")
	}
	if inv.Len() != 2 {
		t.Errorf("Len() = %d, want 2", inv.Len())
	}
}

func TestInventory_ItemsReturnsCopy(t *testing.T) {
	t.Parallel()

	inv := New()
	inv.Add("rope")
	items := inv.Items()
	items[0] = "mutated"

	if inv.Items()[0] != "rope" {
		t.Error("mutating the Items() slice leaked into the inventory")
	}
}

func TestInventory_ReplaceAndClear(t *testing.T) {
	t.Parallel()

	inv := New()
	inv.Add("old")
	inv.Replace([]string{"lantern", "key", "key"})

	got := inv.Items()
	if len(got) != 3 || got[0] != "lantern" || got[1] != "key" || got[2] != "key" {
		t.Fatalf("after Replace: %v", got)
	}

	inv.Clear()
	if inv.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", inv.Len())
	}
}

// ---- tool handlers ----

func TestTools_AddRoundTrip(t *testing.T) {
	t.Parallel()

	inv := New()
	r := tools.NewRegistry(Tools(inv)...)

	out := execute(t, r, "add_inventory_item", `{"item":"brass lantern"}`)

	var res struct {
		Success   bool     `json:"success"`
		Message   string   `json:"message"`
		Item      string   `json:"item"`
		Inventory []string `json:"inventory"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if !res.Success {
		t.Fatalf("add failed: %s", res.Message)
	}
	if res.Item != "brass lantern" {
		t.Errorf("result item = %q", res.Item)
	}
	if len(res.Inventory) != 1 || res.Inventory[0] != "brass lantern" {
		t.Errorf("result inventory = %v", res.Inventory)
	}
	if got := inv.Items(); len(got) != 1 || got[0] != "brass lantern" {
		t.Errorf("inventory after add = %v", got)
	}
}

func TestTools_RemovePresent(t *testing.T) {
	t.Parallel()

	inv := New()
	inv.Add("torch")
	r := tools.NewRegistry(Tools(inv)...)

	out := execute(t, r, "remove_inventory_item", `{"item":"torch"}`)
	if !strings.Contains(out, `"success":true`) {
		t.Fatalf("remove of a held item failed: %s", out)
	}
	if inv.Len() != 0 {
		t.Errorf("inventory not emptied: %v", inv.Items())
	}
}

func TestTools_RemoveMissingOmitsItem(t *testing.T) {
	t.Parallel()

	inv := New()
	r := tools.NewRegistry(Tools(inv)...)

	out := execute(t, r, "remove_inventory_item", `{"item":"ghost sword"}`)

	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if success, _ := m["success"].(bool); success {
		t.Fatal("removing an absent item reported success")
	}
	if _, present := m["item"]; present {
		t.Errorf("failure result must omit the item field: %s", out)
	}
	if msg, _ := m["message"].(string); !strings.Contains(msg, "ghost sword") {
		t.Errorf("failure message %q does not name the item", msg)
	}
}

func TestTools_List(t *testing.T) {
	t.Parallel()

	inv := New()
	inv.Add("map")
	inv.Add("compass")
	r := tools.NewRegistry(Tools(inv)...)

	out := execute(t, r, "list_inventory", "{}")

	var res struct {
		Items []string `json:"items"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("count = %d, want 2", res.Count)
	}
	if len(res.Items) != 2 || res.Items[0] != "map" || res.Items[1] != "compass" {
		t.Errorf("items = %v", res.Items)
	}
}

func TestTools_MissingItemParameter(t *testing.T) {
	t.Parallel()

	inv := New()
	r := tools.NewRegistry(Tools(inv)...)

	out := execute(t, r, "add_inventory_item", `{}`)
	if !strings.Contains(out, `"success":false`) {
		t.Fatalf("missing required parameter did not produce a failure result: %s", out)
	}
	if inv.Len() != 0 {
		t.Errorf("inventory mutated by a rejected call: %v", inv.Items())
	}
}

func TestTools_EmptyItemRejected(t *testing.T) {
	t.Parallel()

	inv := New()
	r := tools.NewRegistry(Tools(inv)...)

	out := execute(t, r, "add_inventory_item", `{"item":""}`)
	if !strings.Contains(out, `"success":false`) {
		t.Fatalf("empty item did not produce a failure result: %s", out)
	}
}
