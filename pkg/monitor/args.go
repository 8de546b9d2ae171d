package monitor

import "fmt"

// MaxArgs is the size of the argument vector, including the slot that
// terminates it. A command line can hold at most MaxArgs-1 arguments.
const MaxArgs = 16

const whitespace = "\t\r\n "

// TooManyArgsError is returned by parseArgs when a line does not fit in
// the argument vector.
type TooManyArgsError struct {
	Max int
}

func (e *TooManyArgsError) Error() string {
	return fmt.Sprintf("Too many arguments (max %d)", e.Max)
}

func isSpace(ch byte) bool {
	for i := 0; i < len(whitespace); i++ {
		if whitespace[i] == ch {
			return true
		}
	}
	return false
}

// parseArgs splits line into whitespace separated arguments. The
// arguments are substrings of line. A NUL byte ends the line.
func parseArgs(line string) ([]string, error) {
	for i := 0; i < len(line); i++ {
		if line[i] == 0 {
			line = line[:i]
			break
		}
	}
	var argv []string
	i := 0
	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i >= len(line) {
			break
		}
		if len(argv) == MaxArgs-1 {
			return nil, &TooManyArgsError{Max: MaxArgs}
		}
		start := i
		for i < len(line) && !isSpace(line[i]) {
			i++
		}
		argv = append(argv, line[start:i])
	}
	return argv, nil
}
