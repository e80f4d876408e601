package syncx

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		cursor Cursor
	}{
		{
			name:   "normal cursor",
			cursor: Cursor{ChangedMs: 1730635200000, UID: uuid.MustParse("c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f")},
		},
		{
			name:   "zero timestamp with uid",
			cursor: Cursor{ChangedMs: 0, UID: uuid.MustParse("c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.cursor.Encode()
			if encoded == "" {
				t.Fatal("Encode() returned empty string for non-zero cursor")
			}
			got, err := DecodeCursor(encoded)
			if err != nil {
				t.Fatalf("DecodeCursor() error = %v", err)
			}
			if got != tt.cursor {
				t.Errorf("DecodeCursor() = %+v, want %+v", got, tt.cursor)
			}
		})
	}
}

func TestDecodeCursorLegacy(t *testing.T) {
	// base64url("1730635200000|c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f"), no version prefix
	got, err := DecodeCursor("MTczMDYzNTIwMDAwMHxjMWQ5YjdkYy1hMWIyLTRjM2QtOWU4Zi03YTZiNWM0ZDNlMmY")
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	want := Cursor{ChangedMs: 1730635200000, UID: uuid.MustParse("c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f")}
	if got != want {
		t.Errorf("DecodeCursor() = %+v, want %+v", got, want)
	}
}

func TestCursorZero(t *testing.T) {
	if got := (Cursor{}).Encode(); got != "" {
		t.Errorf("zero cursor encoded to %q", got)
	}
	c, err := DecodeCursor("")
	if err != nil || !c.IsZero() {
		t.Errorf("DecodeCursor(\"\") = %+v, %v", c, err)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!!"},
		{"wrong prefix", "eDF8MTczMDYzNTIwMDAwMHxjMWQ5YjdkYy1hMWIyLTRjM2QtOWU4Zi03YTZiNWM0ZDNlMmY"},
		{"legacy bad uid", "MTczMDYzNTIwMDAwMHxub3QtYS11dWlk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCursor(tt.encoded); !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("DecodeCursor(%q) error = %v, want ErrInvalidCursor", tt.encoded, err)
			}
		})
	}
}

func TestCursorAtAndBefore(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := CursorAt(at)
	ms := at.UnixMilli()
	id := uuid.New()

	if !c.Before(ms, id) {
		t.Error("change at the boundary instant should be included")
	}
	if c.Before(ms-1, id) {
		t.Error("change before the boundary should be excluded")
	}

	pos := Cursor{ChangedMs: ms, UID: uuid.MustParse("00000000-0000-4000-8000-000000000005")}
	if pos.Before(ms, uuid.MustParse("00000000-0000-4000-8000-000000000004")) {
		t.Error("same-ms change with smaller uid should already be consumed")
	}
	if !pos.Before(ms, uuid.MustParse("00000000-0000-4000-8000-000000000006")) {
		t.Error("same-ms change with larger uid should be pending")
	}

	if !CursorAt(time.Time{}).IsZero() {
		t.Error("CursorAt(zero) should be the start of the feed")
	}
}

func TestParseTimeToMs(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"2025-11-03T10:00:00Z", 1762164000000, true},
		{"2025-11-03T10:00:00.250Z", 1762164000250, true},
		{"1762164000000", 1762164000000, true},
		{"", 0, false},
		{"yesterday", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseTimeToMs(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseTimeToMs(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}

	if RFC3339(1762164000250) != "2025-11-03T10:00:00.25Z" {
		t.Errorf("RFC3339() = %s", RFC3339(1762164000250))
	}
}

func TestMutationRequestValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		req     MutationRequest
		wantErr bool
	}{
		{"valid", MutationRequest{UID: "L1", UpdatedAt: now, Data: json.RawMessage(`{"a":1}`)}, false},
		{"valid without data", MutationRequest{UID: "L1", UpdatedAt: now}, false},
		{"missing uid", MutationRequest{UpdatedAt: now}, true},
		{"missing timestamp", MutationRequest{UID: "L1"}, true},
		{"bad json", MutationRequest{UID: "L1", UpdatedAt: now, Data: json.RawMessage(`{`)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEntityPath(t *testing.T) {
	for _, entity := range EntityTypes() {
		p, err := EntityPath(entity)
		if err != nil {
			t.Fatalf("EntityPath(%q) error = %v", entity, err)
		}
		back, ok := EntityFromPath(p)
		if !ok || back != entity {
			t.Errorf("EntityFromPath(%q) = %q, %v", p, back, ok)
		}
	}

	if _, err := EntityPath("invoice"); err == nil {
		t.Error("EntityPath(invoice) should fail")
	}
	if _, ok := EntityFromPath("invoices"); ok {
		t.Error("EntityFromPath(invoices) should fail")
	}
}
