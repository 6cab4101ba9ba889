package core

import (
	"bufio"
	"os"
	"strings"
)

const (
	EnvTool     = "LIGHTFARM_TOOL"
	EnvBlobRoot = "LIGHTFARM_BLOB_ROOT"
	EnvBlobID   = "LIGHTFARM_BLOB_ID"
	EnvShards   = "LIGHTFARM_SHARDS"
)

// LoadEnvFile reads KEY=VALUE pairs from path. Lines starting with # are ignored.
// A missing file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return map[string]string{}, nil // not fatal if missing
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out[k] = strings.Trim(v, `"`)
		}
	}
	return out, s.Err()
}
