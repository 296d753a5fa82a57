package game

import (
	"strings"
	"testing"
)

func TestParseOutline_CleanPayload(t *testing.T) {
	t.Parallel()

	raw := `{"title":"The Hollow Crown","tagline":"A kingdom without a king",` +
		`"mainQuest":"Recover the crown from the sunken vault",` +
		`"subQuests":["win the ferryman's trust"],"keyLocations":["the drowned quarter"],` +
		`"importantItems":["tideworn key"],"keyCharacters":["Maren the ferryman"],` +
		`"adventureArc":"From the docks to the vault","specialMechanics":"Tides change exits"}`

	o, err := ParseOutline(raw)
	if err != nil {
		t.Fatalf("ParseOutline: unexpected error: %v", err)
	}
	if o.Title != "The Hollow Crown" {
		t.Errorf("title: got %q", o.Title)
	}
	if o.MainQuest == "" || len(o.SubQuests) != 1 || len(o.KeyLocations) != 1 {
		t.Errorf("outline fields not preserved: %+v", o)
	}
}

// TestParseOutline_ProseWrapped verifies the payload is found when the model
// wraps it in commentary instead of answering with bare JSON.
func TestParseOutline_ProseWrapped(t *testing.T) {
	t.Parallel()

	raw := "Here is your adventure:\n\n" +
		`{"title":"Ember Road","mainQuest":"Carry the last ember across the ash plains"}` +
		"\n\nEnjoy!"

	o, err := ParseOutline(raw)
	if err != nil {
		t.Fatalf("ParseOutline: unexpected error: %v", err)
	}
	if o.Title != "Ember Road" {
		t.Errorf("title: got %q", o.Title)
	}
}

// TestParseOutline_TruncatedRepaired verifies a payload cut off by a token
// limit is recovered by closing the open structures.
func TestParseOutline_TruncatedRepaired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "cut after a complete value",
			raw:  `{"title":"Ember Road","mainQuest":"Carry the ember","subQuests":["reach the ferry"`,
		},
		{
			name: "cut inside a string",
			raw:  `{"title":"Ember Road","mainQuest":"Carry the ember","adventureArc":"From the plains to`,
		},
		{
			name: "trailing comma needs full repair",
			raw:  `{"title":"Ember Road","mainQuest":"Carry the ember","subQuests":["reach the ferry",`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o, err := ParseOutline(tc.raw)
			if err != nil {
				t.Fatalf("ParseOutline: unexpected error: %v", err)
			}
			if o.Title != "Ember Road" {
				t.Errorf("title: got %q", o.Title)
			}
			if o.MainQuest != "Carry the ember" {
				t.Errorf("mainQuest: got %q", o.MainQuest)
			}
		})
	}
}

func TestParseOutline_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name:    "no json at all",
			raw:     "I cannot help with that.",
			wantErr: "no JSON payload",
		},
		{
			name:    "missing title",
			raw:     `{"mainQuest":"Do the thing"}`,
			wantErr: "does not parse",
		},
		{
			name:    "missing mainQuest",
			raw:     `{"title":"Nameless"}`,
			wantErr: "does not parse",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseOutline(tc.raw)
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should contain %q", err, tc.wantErr)
			}
		})
	}
}
