// Package input expands free-text values given on the command line: "-"
// reads stdin and "@path" reads a file.
package input

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// maxText bounds what is read for a single value.
const maxText = 1 << 20

// Text returns value, or the contents of stdin or a file when value is "-"
// or "@path". Surrounding whitespace is trimmed.
func Text(value string, stdin io.Reader) (string, error) {
	switch {
	case value == "-":
		return read(stdin, "stdin")
	case strings.HasPrefix(value, "@") && len(value) > 1:
		path := value[1:]
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		defer f.Close()
		return read(f, path)
	}
	return strings.TrimSpace(value), nil
}

func read(r io.Reader, name string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxText+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > maxText {
		return "", fmt.Errorf("read %s: more than %d bytes", name, maxText)
	}
	return strings.TrimSpace(string(data)), nil
}
