package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/gwimport/internal/model"
)

// TraceEntry records one processed event or staging operation.
type TraceEntry struct {
	Seq   int64           `json:"seq"`
	From  Phase           `json:"from"`
	Event string          `json:"event"`
	To    Phase           `json:"to"`
	Error model.ErrorKind `json:"error,omitempty"`
}

// String renders the entry as "<seq> <from> <event> -> <to> [!<error>]".
func (e TraceEntry) String() string {
	s := fmt.Sprintf("%d %s %s -> %s", e.Seq, e.From, e.Event, e.To)
	if e.Error != "" {
		s += " !" + string(e.Error)
	}
	return s
}

// FormatTrace renders entries one per line.
func FormatTrace(entries []TraceEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
