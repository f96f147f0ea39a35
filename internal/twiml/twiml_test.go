package twiml

import (
	"strings"
	"testing"
)

func TestExploration(t *testing.T) {
	got := Exploration("Hi, this was an automated system check.")

	if !strings.HasPrefix(got, `<?xml version="1.0" encoding="UTF-8"?><Response>`) {
		t.Errorf("missing XML declaration: %s", got)
	}
	if !strings.Contains(got, `<Pause length="1.5"/>`) {
		t.Errorf("expected initial listen pause, got %s", got)
	}
	if !strings.Contains(got, "automated system check") {
		t.Errorf("probe message missing: %s", got)
	}
	if !strings.Contains(got, `<Record timeout="10" maxLength="90" playBeep="false"/>`) {
		t.Errorf("expected record verb, got %s", got)
	}
	sayIdx := strings.Index(got, "<Say")
	recIdx := strings.Index(got, "<Record")
	if sayIdx < 0 || recIdx < 0 || sayIdx > recIdx {
		t.Errorf("expected say before record, got %s", got)
	}
}

func TestButtonSequence_PausesToOffsets(t *testing.T) {
	got := ButtonSequence([]Step{
		{OffsetSeconds: 8.5, Digit: "1"},
		{OffsetSeconds: 14.5, Digit: "2"},
	}, "probe")

	// First press: 8.5 - 1.0 connection pause = 7.5s wait.
	if !strings.Contains(got, `<Pause length="7.5"/><Play digits="1"/>`) {
		t.Errorf("expected 7.5s pause before first press, got %s", got)
	}
	// Second press: 14.5 - (8.5 + 1.0 press) = 5s wait.
	if !strings.Contains(got, `<Pause length="5"/><Play digits="2"/>`) {
		t.Errorf("expected 5s pause before second press, got %s", got)
	}
	if !strings.Contains(got, `<Pause length="10"/><Say`) {
		t.Errorf("expected menu-settle pause before probe, got %s", got)
	}
	if !strings.Contains(got, `<Record timeout="10" maxLength="90" playBeep="false"/>`) {
		t.Errorf("expected record verb, got %s", got)
	}
}

func TestButtonSequence_NoNegativePause(t *testing.T) {
	// An offset inside the connection pause must not emit a pause at all.
	got := ButtonSequence([]Step{{OffsetSeconds: 0.5, Digit: "9"}}, "probe")

	if strings.Contains(got, `length="-`) {
		t.Errorf("emitted negative pause: %s", got)
	}
	if !strings.Contains(got, `<Pause length="1"/><Play digits="9"/>`) {
		t.Errorf("expected immediate press after connection pause, got %s", got)
	}
}

func TestButtonSequence_EmptyPlanStillProbes(t *testing.T) {
	got := ButtonSequence(nil, "probe")

	if strings.Contains(got, "<Play") {
		t.Errorf("empty plan should not press anything: %s", got)
	}
	if !strings.Contains(got, "<Say") || !strings.Contains(got, "<Record") {
		t.Errorf("expected probe and record, got %s", got)
	}
}

func TestEscapesMessage(t *testing.T) {
	got := Exploration(`calling about "1-bed & den" <units>`)

	if strings.Contains(got, "<units>") {
		t.Errorf("message not escaped: %s", got)
	}
	if !strings.Contains(got, "&amp;") {
		t.Errorf("expected escaped ampersand: %s", got)
	}
}
