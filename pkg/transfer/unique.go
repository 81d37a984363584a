package transfer

import (
	"regexp"
	"strconv"
	"strings"
)

// copySuffix matches a " (copy)" or " (copy N)" marker left by an earlier
// duplicate so that copies of copies do not stack markers.
var copySuffix = regexp.MustCompile(` \(copy(?: \d+)?\)$`)

// splitExt splits name at its last dot. A leading dot is part of the stem.
func splitExt(name string) (string, string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}

// UniqueName returns the count-th alternative for name: "a (copy).txt" for
// count 1, then "a (copy 2).txt", "a (copy 3).txt" and so on.
func UniqueName(name string, count int) string {
	stem, ext := splitExt(name)
	stem = copySuffix.ReplaceAllString(stem, "")
	if count <= 1 {
		return stem + " (copy)" + ext
	}
	return stem + " (copy " + strconv.Itoa(count) + ")" + ext
}
