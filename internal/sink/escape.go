package sink

import (
	"fmt"
	"path"
	"strings"
)

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Quote renders s as a double-quoted launch-syntax value.
func Quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}

// NormalizePath converts a recording path to the form accepted by the sink
// description: forward slashes, cleaned, absolute (POSIX root or drive letter),
// free of control characters.
func NormalizePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: control character in %q", ErrInvalidPath, p)
		}
	}

	normalized := path.Clean(strings.ReplaceAll(p, `\`, "/"))

	if !path.IsAbs(normalized) && !hasDriveLetter(normalized) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, p)
	}
	if strings.HasSuffix(normalized, "/") {
		return "", fmt.Errorf("%w: %q is a directory", ErrInvalidPath, p)
	}

	return normalized, nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 3 || p[1] != ':' || p[2] != '/' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
