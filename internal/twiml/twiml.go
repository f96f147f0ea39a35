// Package twiml renders the call instructions for exploration and
// button-plan navigation calls.
//
// A navigation call replays every prior press: the line stays silent until
// each scheduled offset, sends the DTMF digit, and only after the last press
// starts listening for the far end. Offsets are measured from call connect.
package twiml

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Step is one scheduled button press: send Digit at OffsetSeconds from call
// connect.
type Step struct {
	OffsetSeconds float64 `json:"offset_seconds"`
	Digit         string  `json:"digit"`
}

// pressDuration is how long a DTMF press itself takes on the wire. It is an
// empirical constant shared with the session's trim arithmetic.
const pressDuration = 1.0

// Exploration returns TwiML that listens to whatever answers, then speaks
// the probe message so a human knows why we called, and records throughout.
func Exploration(probeMessage string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response>`)
	sb.WriteString(`<Pause length="1.5"/>`)
	fmt.Fprintf(&sb, `<Say voice="Polly.Joanna" language="en-US">%s</Say>`, escape(probeMessage))
	sb.WriteString(`<Record timeout="10" maxLength="90" playBeep="false"/>`)
	sb.WriteString(`<Hangup/>`)
	sb.WriteString(`</Response>`)
	return sb.String()
}

// ButtonSequence returns TwiML that executes the plan silently, then pauses
// for the next menu layer, speaks the probe message, and records.
func ButtonSequence(plan []Step, probeMessage string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response>`)

	// Brief pause for connection.
	sb.WriteString(`<Pause length="1"/>`)
	elapsed := 1.0

	for _, step := range plan {
		if wait := step.OffsetSeconds - elapsed; wait > 0 {
			fmt.Fprintf(&sb, `<Pause length="%s"/>`, formatSeconds(wait))
		}
		fmt.Fprintf(&sb, `<Play digits="%s"/>`, escape(step.Digit))
		elapsed = step.OffsetSeconds + pressDuration
	}

	sb.WriteString(`<Pause length="10"/>`)
	fmt.Fprintf(&sb, `<Say voice="Polly.Joanna" language="en-US">%s</Say>`, escape(probeMessage))
	sb.WriteString(`<Record timeout="10" maxLength="90" playBeep="false"/>`)
	sb.WriteString(`<Pause length="30"/>`)
	sb.WriteString(`<Hangup/>`)
	sb.WriteString(`</Response>`)
	return sb.String()
}

// formatSeconds renders a pause length without a trailing ".0" for whole
// seconds.
func formatSeconds(s float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", s), ".0")
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
