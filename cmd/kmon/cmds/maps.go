package cmds

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// findMapping returns the start of the file offset 0 mapping of path in a
// /proc/<pid>/maps listing.
func findMapping(r io.Reader, path string) (uint64, bool, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		// start-end perms offset dev inode pathname
		fields := strings.Fields(s.Text())
		if len(fields) < 6 || strings.Join(fields[5:], " ") != path {
			continue
		}
		off, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil || off != 0 {
			continue
		}
		start, _, _ := strings.Cut(fields[0], "-")
		addr, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			return 0, false, err
		}
		return addr, true, nil
	}
	return 0, false, s.Err()
}
