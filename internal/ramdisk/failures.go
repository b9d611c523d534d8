package ramdisk

import (
	"fmt"
	"strings"
)

// Failures accumulates non-fatal discovery errors. The zero value is
// ready to use.
type Failures struct {
	msgs []string
}

// Add records one failure.
func (f *Failures) Add(format string, args ...any) {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	f.msgs = append(f.msgs, format)
}

// Len returns the number of recorded failures.
func (f *Failures) Len() int {
	return len(f.msgs)
}

// Error returns the combined message, or "" when nothing failed.
func (f *Failures) Error() string {
	if len(f.msgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The following errors were encountered during hardware discovery:")
	for _, m := range f.msgs {
		b.WriteString("\n* ")
		b.WriteString(m)
	}
	return b.String()
}
