package executor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/joeycumines/logiface"
)

func TestNewLogger_WritesJSONToGivenWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, logiface.LevelInformational)
	logger.Info().Str("field", "value").Log("hello")

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Fatalf("expected the JSON line to contain the message, got %q", out)
	}
	if !strings.Contains(out, `"field":"value"`) {
		t.Fatalf("expected the JSON line to contain the field, got %q", out)
	}
}

func TestNewLogger_LevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, logiface.LevelError)
	logger.Info().Log("should be filtered out")

	if buf.Len() != 0 {
		t.Fatalf("expected nothing written below the configured level, got %q", buf.String())
	}
}

func TestNewLogger_NilWriterDefaultsToStderr(t *testing.T) {
	// Just confirm this doesn't panic and returns a usable logger; we
	// can't easily intercept os.Stderr itself here.
	logger := NewLogger(nil, logiface.LevelInformational)
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}
