package storage

import (
	"fmt"
	"strings"
)

// LatestSegment names the folder that mirrors the most recent export.
const LatestSegment = "latest"

// ExportObjectPath joins <prefix>/<exportID>/<fileName>. The prefix may span several folders;
// no segment may be blank, contain a separator, or contain "..".
func ExportObjectPath(prefix, exportID, fileName string) (string, error) {
	var segments []string
	for _, s := range strings.Split(strings.TrimSpace(prefix), "/") {
		if s == "" {
			continue
		}
		if err := checkSegment("prefix", s); err != nil {
			return "", err
		}
		segments = append(segments, strings.TrimSpace(s))
	}
	for _, part := range [][2]string{{"exportID", exportID}, {"fileName", fileName}} {
		if err := checkSegment(part[0], part[1]); err != nil {
			return "", err
		}
		segments = append(segments, strings.TrimSpace(part[1]))
	}
	return strings.Join(segments, "/"), nil
}

// LatestObjectPath is the stable alias for fileName under prefix.
func LatestObjectPath(prefix, fileName string) (string, error) {
	return ExportObjectPath(prefix, LatestSegment, fileName)
}

func checkSegment(name, value string) error {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, `/\`):
		return fmt.Errorf("storage: %s %q contains a path separator", name, value)
	case strings.Contains(value, ".."):
		return fmt.Errorf("storage: %s %q contains a traversal sequence", name, value)
	}
	return nil
}
