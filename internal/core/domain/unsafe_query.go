package domain

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
)

// ErrUnsafeQuery matches every *UnsafeQueryError via errors.Is.
var ErrUnsafeQuery = errors.New("unsafe query")

const maxStackDepth = 32

// UnsafeQueryError reports a row-by-row iteration over a statement that has
// neither a row limit nor a key-set filter.
type UnsafeQueryError struct {
	SQL   string
	Bound Bound
	pcs   []uintptr
}

// NewUnsafeQueryError captures the call stack of its caller. skip is the
// number of additional frames above the caller to drop, so that the first
// reported frame is user code rather than guard internals.
func NewUnsafeQueryError(sql string, bound Bound, skip int) *UnsafeQueryError {
	pcs := make([]uintptr, maxStackDepth)
	// 0 is runtime.Callers, 1 is this function, 2 is our caller.
	n := runtime.Callers(2+skip, pcs)
	return &UnsafeQueryError{
		SQL:   sql,
		Bound: bound,
		pcs:   pcs[:n],
	}
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("%s: unpaginated row iteration over %q; "+
		"add a LIMIT clause, paginate, or filter by an explicit key set; "+
		"if this is a false positive, collect the rows through the bounded query path instead of iterating",
		ErrUnsafeQuery, e.SQL)
}

func (e *UnsafeQueryError) Is(target error) bool {
	return target == ErrUnsafeQuery
}

// StackTrace returns the frames that led to the unsafe iteration, starting at
// the code that called the guard.
func (e *UnsafeQueryError) StackTrace() []runtime.Frame {
	if len(e.pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(e.pcs)
	var out []runtime.Frame
	for {
		f, more := frames.Next()
		out = append(out, f)
		if !more {
			break
		}
	}
	return out
}

// Location returns "file:line" of the guard's caller, or "" if unknown.
func (e *UnsafeQueryError) Location() string {
	frames := e.StackTrace()
	if len(frames) == 0 || frames[0].File == "" {
		return ""
	}
	return frames[0].File + ":" + strconv.Itoa(frames[0].Line)
}

// Format prints the stack trace after the message for %+v.
func (e *UnsafeQueryError) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		_, _ = io.WriteString(s, e.Error())
		for _, f := range e.StackTrace() {
			_, _ = fmt.Fprintf(s, "\n%s\n\t%s:%d", f.Function, f.File, f.Line)
		}
	case verb == 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	default:
		_, _ = io.WriteString(s, e.Error())
	}
}
