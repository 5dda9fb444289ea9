package blockage

import (
	"strconv"
	"strings"
)

// DefaultMaxFrames is the number of frames captured per interrupt.
const DefaultMaxFrames = 32

// unknown is substituted for any frame attribute the engine could not supply.
const unknown = "(unknown)"

// Frame is a single call stack entry as reported by an Engine.
// Line and Column are 1-based; zero means the engine has no position info.
type Frame struct {
	Function    string
	Script      string
	Line        int
	Column      int
	Constructor bool
	// Compiled marks frames executing a compiled unit (WebAssembly) rather
	// than interpreted script.
	Compiled bool
	Eval     bool
}

// AppendFrame appends the formatted frame to dst, without a newline.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = append(dst, "    at "...)
	if f.Constructor {
		dst = append(dst, "new "...)
	}
	dst = appendOrUnknown(dst, f.Function)
	dst = append(dst, ' ')
	if f.Compiled {
		dst = append(dst, "<WASM> "...)
	}
	dst = append(dst, '(')
	if f.Eval {
		dst = append(dst, "[eval]"...)
	} else {
		dst = appendOrUnknown(dst, f.Script)
	}
	dst = append(dst, ':')
	dst = appendPosition(dst, f.Line)
	dst = append(dst, ':')
	dst = appendPosition(dst, f.Column)
	return append(dst, ')')
}

// AppendStack appends frames, innermost first, separated by newlines.
// There is no trailing newline. An empty stack appends nothing.
func AppendStack(dst []byte, frames []Frame) []byte {
	for i, f := range frames {
		if i != 0 {
			dst = append(dst, '\n')
		}
		dst = AppendFrame(dst, f)
	}
	return dst
}

// FormatStack is AppendStack into a new string.
func FormatStack(frames []Frame) string {
	return string(AppendStack(nil, frames))
}

// CountFrames returns the number of frames in a stack produced by
// FormatStack.
func CountFrames(stack string) int {
	if stack == "" {
		return 0
	}
	return strings.Count(stack, "\n") + 1
}

func appendOrUnknown(dst []byte, s string) []byte {
	if s == "" {
		return append(dst, unknown...)
	}
	return append(dst, s...)
}

func appendPosition(dst []byte, n int) []byte {
	if n <= 0 {
		return append(dst, unknown...)
	}
	return strconv.AppendInt(dst, int64(n), 10)
}
