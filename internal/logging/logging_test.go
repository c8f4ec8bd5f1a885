package logging

import "testing"

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := New("debug", format)
		if err != nil {
			t.Fatalf("New(debug, %q) returned error: %v", format, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Errorf("format %q: debug level should be enabled", format)
		}
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
