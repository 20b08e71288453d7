package probe

import (
	"bufio"
	"os"
	"strings"
)

func readOSRelease(path string) OSInfo {
	info := OSInfo{ID: "linux", VersionID: "unknown", Name: "Linux"}

	f, err := os.Open(path)
	if err != nil {
		log.Debug("os-release unavailable", "path", path, "error", err)
		return info
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || strings.HasPrefix(key, "#") {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			info.ID = value
		case "ID_LIKE":
			info.IDLike = strings.Fields(value)
		case "VERSION_ID":
			info.VersionID = value
		case "PRETTY_NAME":
			info.Name = value
		}
	}
	return info
}
