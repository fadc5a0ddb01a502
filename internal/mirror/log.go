package mirror

import (
	"fmt"
	"log/slog"
	"strings"
)

type Action string

const (
	ActionMkdir Action = "mkdir"
	ActionCopy  Action = "copy"
	ActionSkip  Action = "skip"
	ActionError Action = "error"
)

type Entry struct {
	Action Action
	Source string
	Target string
	Reason string
}

// Log records every action of one mirror run in order.
type Log struct {
	Source      string
	Destination string
	Entries     []Entry
	Dirs        int
	Files       int
	Skipped     int
	Failed      int
}

func (l *Log) mkdir(src, dst string) {
	l.Dirs++
	l.Entries = append(l.Entries, Entry{Action: ActionMkdir, Source: src, Target: dst})
}

func (l *Log) copied(src, dst string) {
	l.Files++
	l.Entries = append(l.Entries, Entry{Action: ActionCopy, Source: src, Target: dst})
}

func (l *Log) skip(src, reason string) {
	l.Skipped++
	l.Entries = append(l.Entries, Entry{Action: ActionSkip, Source: src, Reason: reason})
}

func (l *Log) fail(src, dst string, err error) {
	l.Failed++
	slog.Warn("mirror entry failed", "source", src, "target", dst, "error", err)
	l.Entries = append(l.Entries, Entry{Action: ActionError, Source: src, Target: dst, Reason: err.Error()})
}

// Errors returns the failed entries.
func (l *Log) Errors() []Entry {
	var out []Entry
	for _, e := range l.Entries {
		if e.Action == ActionError {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log) String() string {
	var sb strings.Builder
	for _, e := range l.Entries {
		switch e.Action {
		case ActionMkdir:
			fmt.Fprintf(&sb, "Created directory: %s\n", e.Target)
		case ActionCopy:
			fmt.Fprintf(&sb, "Copied: %s -> %s\n", e.Source, e.Target)
		case ActionSkip:
			fmt.Fprintf(&sb, "Skipped (%s): %s\n", e.Reason, e.Source)
		case ActionError:
			fmt.Fprintf(&sb, "Error copying %s: %s\n", e.Source, e.Reason)
		}
	}
	return sb.String()
}
