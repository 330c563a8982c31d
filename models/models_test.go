package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexStringUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "string", input: `{"tgUserId":"42"}`, expected: "42"},
		{name: "number", input: `{"tgUserId":42}`, expected: "42"},
		{name: "large number", input: `{"tgUserId":7012345678}`, expected: "7012345678"},
		{name: "null", input: `{"tgUserId":null}`, expected: ""},
		{name: "missing", input: `{}`, expected: ""},
		{name: "padded", input: `{"tgUserId":" 42 "}`, expected: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var meta PaymentMetadata
			if err := json.Unmarshal([]byte(tt.input), &meta); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := meta.TgUserID.String(); got != tt.expected {
				t.Errorf("TgUserID = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFlexStringRejectsObjects(t *testing.T) {
	var meta PaymentMetadata
	if err := json.Unmarshal([]byte(`{"tgUserId":{"id":1}}`), &meta); err == nil {
		t.Fatal("expected error for object id")
	}
}

func TestFormatAndParseTime(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	ts := time.Date(2026, 3, 1, 15, 4, 5, 123456789, moscow)

	formatted := FormatTime(ts)
	if formatted != "2026-03-01T12:04:05.123Z" {
		t.Fatalf("FormatTime() = %s", formatted)
	}

	parsed, err := ParseTime(formatted)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(ts.Truncate(time.Millisecond)) {
		t.Errorf("ParseTime() = %v, want %v", parsed, ts.Truncate(time.Millisecond))
	}

	if _, err := ParseTime("2026-03-01T12:04:05+03:00"); err != nil {
		t.Errorf("plain RFC 3339 should parse: %v", err)
	}
	if _, err := ParseTime("вчера"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestAmountString(t *testing.T) {
	if got := (Amount{Value: "3000.00", Currency: "RUB"}).String(); got != "3000.00 RUB" {
		t.Errorf("Amount.String() = %q", got)
	}
	if got := (Amount{}).String(); got != "" {
		t.Errorf("empty Amount.String() = %q", got)
	}
}
