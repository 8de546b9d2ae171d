package monitor

import (
	"github.com/go-delve/kmon/pkg/stack"
	"github.com/go-delve/kmon/pkg/trap"
)

func backtrace(m *Monitor, args []string, tf *trap.Frame) int {
	m.printf("Stack backtrace:\n")
	mem := m.target.Mem
	if mem == nil {
		m.printf("backtrace stopped: no target memory\n")
		return 0
	}

	width := 2 * mem.Size
	fpName, pcName := "ebp", "eip"
	if mem.Size == 8 {
		fpName, pcName = "rbp", "rip"
	}

	it := stack.Walk(mem, m.target.FP)
	it.MaxDepth = m.maxDepth
	for it.Next() {
		f := it.Frame()
		m.printf("%s %0*x %s %0*x args", fpName, width, f.FP, pcName, width, f.Ret)
		for _, arg := range f.Args {
			m.printf(" %0*x", width, arg)
		}
		m.printf("\n")

		info := m.target.Symbols.Resolve(f.Ret)
		m.printf("\t %s:%d: %s+%d\n", m.substitutePath(info.File), info.Line, info.Name(), stack.Offset(f.Ret, info.FnAddr))
	}
	if err := it.Err(); err != nil {
		m.printf("backtrace stopped: %v\n", err)
	}
	return 0
}
