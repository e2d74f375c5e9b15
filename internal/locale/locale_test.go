package locale

import "testing"

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"en-US", "en-US"},
		{"en_gb", "en-GB"},
		{"AF-za", "af-ZA"},
		{"de-AT", "de-DE"},
		{"fr", "fr-FR"},
		{"ja-JP", "en-US"},
		{"", "en-US"},
		{"  nl-NL ", "nl-NL"},
		{"nl-BE", "nl-NL"},
		{"de-Latn-DE", "de-DE"},
		{"es-419", "es-ES"},
		{"af", "af-ZA"},
		{"und", "en-US"},
		{"not a tag", "en-US"},
		{"x-klingon", "en-US"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGreeting_EnglishUS(t *testing.T) {
	t.Parallel()
	want := "Hi! This is Gabby. How can I help you today?"
	if got := Greeting("en-US"); got != want {
		t.Errorf("Greeting = %q, want %q", got, want)
	}
}

func TestEveryLanguageHasBothStrings(t *testing.T) {
	t.Parallel()
	for tag, s := range table {
		if s.Greeting == "" || s.ErrorMessage == "" {
			t.Errorf("%s: missing strings: %+v", tag, s)
		}
	}
}

func TestErrorMessage_Localized(t *testing.T) {
	t.Parallel()
	if ErrorMessage("af-ZA") == ErrorMessage("en-US") {
		t.Error("expected Afrikaans apology to differ from English")
	}
	if ErrorMessage("xx") != ErrorMessage("en-US") {
		t.Error("expected unknown language to fall back to English")
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()
	if !Supported("de-de") {
		t.Error("expected de-DE to be supported")
	}
	if Supported("de-AT") {
		t.Error("expected de-AT to be reported unsupported")
	}
	if Supported("") || Supported("en-") {
		t.Error("expected malformed tags to be reported unsupported")
	}
}

func TestSupportedMatchesTable(t *testing.T) {
	t.Parallel()
	if len(supported) != len(table) {
		t.Fatalf("supported has %d tags, table has %d", len(supported), len(table))
	}
	for _, tag := range supported {
		if !Supported(tag) || Resolve(tag) != tag {
			t.Errorf("%s does not resolve to itself", tag)
		}
	}
	if supported[0] != DefaultLanguage {
		t.Errorf("matcher default = %s, want %s", supported[0], DefaultLanguage)
	}
}
