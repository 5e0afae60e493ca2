package pipeline

import (
	"errors"
	"testing"
	"unicode/utf8"

	apperrors "github.com/placeflow/placeflow/pkg/errors"
)

func TestNormalizeField(t *testing.T) {
	t.Run("unwraps one quoted layer", func(t *testing.T) {
		if got := NormalizeField(`"abc-123"`); got != "abc-123" {
			t.Errorf("got %q, want %q", got, "abc-123")
		}
	})

	t.Run("bare value passes through", func(t *testing.T) {
		if got := NormalizeField("abc-123"); got != "abc-123" {
			t.Errorf("got %q, want %q", got, "abc-123")
		}
	})

	t.Run("quoted and bare converge", func(t *testing.T) {
		if NormalizeField(`"xyz"`) != NormalizeField("xyz") {
			t.Error("quoted and bare forms should normalize identically")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		for _, input := range []string{`"abc"`, "abc", `{"lat":1}`, `"{\"lat\":1}"`, ""} {
			once := NormalizeField(input)
			twice := NormalizeField(once)
			if once != twice {
				t.Errorf("NormalizeField not idempotent for %q: %q != %q", input, once, twice)
			}
		}
	})

	t.Run("unwraps embedded JSON object string", func(t *testing.T) {
		got := NormalizeField(`"{\"lat\":36.1,\"lon\":-115.2}"`)
		want := `{"lat":36.1,"lon":-115.2}`
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("malformed quoted value passes through", func(t *testing.T) {
		input := `"unterminated`
		if got := NormalizeField(input); got != input {
			t.Errorf("got %q, want %q", got, input)
		}
	})
}

func TestParseRecord(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		rec := Record{ID: "1-0", Topic: "t", Fields: map[string]string{
			fieldRequestID: "req-1",
			fieldPayload:   `{"lat":1}`,
		}}
		id, payload, err := ParseRecord(rec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "req-1" || payload != `{"lat":1}` {
			t.Errorf("got (%q, %q)", id, payload)
		}
	})

	t.Run("double-encoded fields are normalized", func(t *testing.T) {
		rec := Record{ID: "1-0", Topic: "t", Fields: map[string]string{
			fieldRequestID: `"req-1"`,
			fieldPayload:   `"{\"lat\":1}"`,
		}}
		id, payload, err := ParseRecord(rec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "req-1" || payload != `{"lat":1}` {
			t.Errorf("got (%q, %q)", id, payload)
		}
	})

	t.Run("missing requestId is malformed", func(t *testing.T) {
		rec := Record{ID: "1-0", Topic: "t", Fields: map[string]string{
			fieldPayload: `{"lat":1}`,
		}}
		if _, _, err := ParseRecord(rec); !errors.Is(err, apperrors.ErrMalformedMessage) {
			t.Errorf("got %v, want ErrMalformedMessage", err)
		}
	})

	t.Run("missing payload is malformed", func(t *testing.T) {
		rec := Record{ID: "1-0", Topic: "t", Fields: map[string]string{
			fieldRequestID: "req-1",
		}}
		if _, _, err := ParseRecord(rec); !errors.Is(err, apperrors.ErrMalformedMessage) {
			t.Errorf("got %v, want ErrMalformedMessage", err)
		}
	})
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}

func TestTruncatePreference(t *testing.T) {
	if got := truncatePreference("abcdef", 3); got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
	if got := truncatePreference("abc", 100); got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
	if got := truncatePreference("abc", 0); got != "abc" {
		t.Errorf("limit 0 should not truncate, got %q", got)
	}
}

func TestTruncatePreferenceRuneBoundary(t *testing.T) {
	t.Run("never splits a multi-byte rune", func(t *testing.T) {
		text := "cafés" // é is two bytes at indices 3-4
		if got := truncatePreference(text, 4); got != "caf" {
			t.Errorf("limit 4 lands mid-rune, got %q, want %q", got, "caf")
		}
		if got := truncatePreference(text, 5); got != "café" {
			t.Errorf("limit 5 is a rune boundary, got %q, want %q", got, "café")
		}
	})

	t.Run("backs off across a long rune", func(t *testing.T) {
		text := "ab\U0001F354" // 4-byte rune starting at byte 2
		for _, limit := range []int{3, 4, 5} {
			got := truncatePreference(text, limit)
			if !utf8.ValidString(got) {
				t.Errorf("limit %d produced invalid UTF-8: %q", limit, got)
			}
			if len(got) > limit {
				t.Errorf("limit %d exceeded: %d bytes", limit, len(got))
			}
		}
	})
}
