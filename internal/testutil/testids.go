package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
)

var scriptCounter atomic.Int64

// ScriptName returns a process-local unique script name for tests, so
// stacks captured by concurrent tests can be told apart. Pass t.Name().
func ScriptName(tname string) string {
	id := scriptCounter.Add(1)
	return fmt.Sprintf("%s-%d.js", strings.ReplaceAll(tname, `/`, `-_-`), id)
}
