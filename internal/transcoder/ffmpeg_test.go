package transcoder

import (
	"context"
	"errors"
	"testing"
)

func TestMissingBinaryReportsUnavailable(t *testing.T) {
	f := NewFFmpeg("definitely-not-a-real-binary-xyz")
	if f.Available() {
		t.Fatal("expected unavailable")
	}
	if _, err := f.OverlayImage(context.Background(), []byte{1}, Params{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("OverlayImage err = %v, want ErrUnavailable", err)
	}
	if _, err := f.LoopVideo(context.Background(), []byte{1}, Params{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("LoopVideo err = %v, want ErrUnavailable", err)
	}
	if _, err := f.RenderWidget(context.Background(), []byte{1}, Params{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("RenderWidget err = %v, want ErrUnavailable", err)
	}
}

func TestEscapeDrawtext(t *testing.T) {
	got := escapeDrawtext(`18° in Paris: 50%'`)
	want := `18° in Paris\: 50\%\'`
	if got != want {
		t.Fatalf("escapeDrawtext = %q, want %q", got, want)
	}
}
