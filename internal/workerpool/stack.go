package workerpool

import (
	"fmt"
	"runtime"
)

// maxStackFrames bounds the captured failure context so a panic report stays
// readable in logs.
const maxStackFrames = 10

// capturedStack returns up to maxStackFrames frames of the current stack,
// skipping the runtime panic machinery and this package's recovery path.
func capturedStack() []string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(4, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more || len(stack) >= maxStackFrames {
			break
		}
	}
	return stack
}
