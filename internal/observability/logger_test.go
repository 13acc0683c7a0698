package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "piton-test", zerolog.InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Info().Uint32("client", 3).Msg("client attached")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level:\n%s", out)
	}
	for _, want := range []string{"INF", "client attached", "app=piton-test", "client=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
