package segment

import (
	"fmt"
	"strconv"
	"strings"
)

const fileExt = ".seg"

// segmentFileName returns the on-disk file name for a segment id, e.g. "3.seg".
func segmentFileName(id uint16) string {
	return fmt.Sprintf("%d%s", id, fileExt)
}

// parseSegmentFileName extracts the segment id from a file name produced by
// segmentFileName, returning ok=false for anything else found in the
// segments directory.
func parseSegmentFileName(name string) (id uint16, ok bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, fileExt), 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}
