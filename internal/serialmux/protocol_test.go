package serialmux

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in      string
		want    Frame
		wantErr bool
	}{
		{in: "D 42.5", want: Frame{Type: FrameDistance, Cm: 42.5, Echo: true, Raw: "D 42.5"}},
		{in: "D -\r", want: Frame{Type: FrameDistance, Raw: "D -"}},
		{in: "D far", wantErr: true},
		{in: "L 101", want: Frame{Type: FrameLine, Line: line.Triplet{Left: true, Right: true}, Raw: "L 101"}},
		{in: "L 1x0", wantErr: true},
		{in: "F left driver overcurrent", want: Frame{Type: FrameFault, Text: "left driver overcurrent", Raw: "F left driver overcurrent"}},
		{in: "OK", want: Frame{Type: FrameAck, Raw: "OK"}},
		{in: "OK M", want: Frame{Type: FrameAck, Text: "M", Raw: "OK M"}},
		{in: "bridge v2 ready", want: Frame{Type: FrameUnknown, Raw: "bridge v2 ready"}},
		{in: "", want: Frame{Type: FrameUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrame(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFrame(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrame(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseFrame(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestFormatCommands(t *testing.T) {
	cases := map[string]string{
		FormatMotor(60, -36):                   "M 60 -36",
		FormatIndicator(indicator.Obstacle):    "I OBSTACLE",
		FormatPattern(indicator.Style(indicator.Error)): "P blink 255 0 0 200",
		FormatPattern(indicator.Solid, indicator.Params{Color: indicator.Color{R: 1, G: 2, B: 3}, Interval: 0}): "P solid 1 2 3 0",
		FormatPattern(indicator.Breathing, indicator.Params{Interval: 1500 * time.Millisecond}):               "P breathing 0 0 0 1500",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestFrameTypeString(t *testing.T) {
	if got := FrameLine.String(); got != "line" {
		t.Errorf("FrameLine = %q", got)
	}
	if got := FrameType(99).String(); got != "FrameType(99)" {
		t.Errorf("FrameType(99) = %q", got)
	}
}
