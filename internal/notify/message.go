package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatStoppedMessage creates the body for a terminated unit.
func FormatStoppedMessage(ev Event) string {
	var sb strings.Builder
	writeEvent(&sb, ev)
	return sb.String()
}

// FormatFailureMessage creates the body for a failed unit.
func FormatFailureMessage(ev Event, err error) string {
	var sb strings.Builder
	writeEvent(&sb, ev)
	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}
	return sb.String()
}

func writeEvent(sb *strings.Builder, ev Event) {
	sb.WriteString(fmt.Sprintf("Remote: %s\n", ev.Remote))
	sb.WriteString(fmt.Sprintf("Serial: %d\n", ev.Serial))
	sb.WriteString(fmt.Sprintf("Updates: %d\n", ev.Updates))
	sb.WriteString(fmt.Sprintf("Uptime: %s", ev.Uptime.Round(time.Second)))
}
