package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"passthrough clean text", "Intro to Machine Learning", "Intro to Machine Learning"},
		{"empty", "", ""},
		{"strip null bytes", "Hack\x00 Night", "Hack Night"},
		{"strip control characters", "Jazz\x01 Jam\x07", "Jazz Jam"},
		{"fold newlines and tabs", "Spring\n\tFormal", "Spring Formal"},
		{"collapse spaces", "  Chess   Club  Open ", "Chess Club Open"},
		{"strip html tags", "<b>Free</b> Pizza", "Free Pizza"},
		{"strip html comment", "Movie<!-- hidden --> Night", "Movie Night"},
		{"keep comparison signs", "Pizza < Tacos", "Pizza < Tacos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Title(tt.input); got != tt.want {
				t.Errorf("Title(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"preserve paragraphs", "Line one\nLine two", "Line one\nLine two"},
		{"normalize CRLF", "One\r\nTwo", "One\nTwo"},
		{"collapse excessive newlines", "One\n\n\n\n\nTwo", "One\n\nTwo"},
		{"trim line edges", "  One  \n\t Two ", "One\nTwo"},
		{"collapse inner spaces and tabs", "Bring\t\ta   laptop", "Bring a laptop"},
		{"strip markup", "<p>Learn <em>Go</em></p>", "Learn Go"},
		{"strip control characters", "Ro\x02bots\x1b", "Robots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Description(tt.input); got != tt.want {
				t.Errorf("Description(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestID(t *testing.T) {
	if got := ID("  evt-123\x00 "); got != "evt-123" {
		t.Errorf("expected evt-123, got %q", got)
	}
	if got := ID("a b"); got != "a b" {
		t.Errorf("expected inner space preserved, got %q", got)
	}
	if got := ID(strings.Repeat("x", 300)); utf8.RuneCountInString(got) != MaxIDLength {
		t.Errorf("expected id capped at %d, got %d", MaxIDLength, len(got))
	}
}

func TestLengthCapsAreRuneSafe(t *testing.T) {
	long := strings.Repeat("日本", 200)

	got := Label(long)
	if !utf8.ValidString(got) {
		t.Fatal("Label produced invalid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != MaxLabelLength {
		t.Errorf("expected %d runes, got %d", MaxLabelLength, n)
	}

	desc := Description(strings.Repeat("é", MaxDescriptionLength+10))
	if n := utf8.RuneCountInString(desc); n != MaxDescriptionLength {
		t.Errorf("expected %d runes, got %d", MaxDescriptionLength, n)
	}
}

func TestIdempotency(t *testing.T) {
	inputs := []string{
		"<i>Open</i>  Mic\n\n\n\nNight\x00",
		"  Spaced   out\ttext ",
		"Plain",
	}
	for _, in := range inputs {
		once := Description(in)
		if twice := Description(once); twice != once {
			t.Errorf("Description not idempotent: %q -> %q -> %q", in, once, twice)
		}
		onceT := Title(in)
		if twiceT := Title(onceT); twiceT != onceT {
			t.Errorf("Title not idempotent: %q -> %q -> %q", in, onceT, twiceT)
		}
	}
}
