package feishu

import (
	"os"
	"strings"
)

var hostIDFiles = []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"}

// hostIdentity returns "<hostname>/<machine-id>" when both are known, else
// whichever one is available.
func hostIdentity() string {
	name, _ := os.Hostname()
	name = strings.TrimSpace(name)
	id := firstReadable(hostIDFiles)
	switch {
	case name != "" && id != "":
		return name + "/" + id
	case name != "":
		return name
	default:
		return id
	}
}

func firstReadable(paths []string) string {
	for _, path := range paths {
		if id, err := readSystemFile(path); err == nil && id != "" {
			return id
		}
	}
	return ""
}

func readSystemFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
