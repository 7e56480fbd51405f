package trainer

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Envs is a set of environment variables.
type Envs map[string]string

// Merge returns a new set with f's values taking precedence over e's.
func Merge(e, f Envs) Envs {
	return lo.Assign(Envs{}, e, f)
}

// Environ overlays e onto base (KEY=VALUE pairs, as from os.Environ) and
// returns the result sorted by key.
func (e Envs) Environ(base []string) []string {
	merged := make(map[string]string, len(base)+len(e))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range e {
		merged[k] = v
	}

	keys := lo.Keys(merged)
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// SetVisibleDevices sets the process-wide device visibility list, which
// every child inherits unless it overrides it.
func SetVisibleDevices(key, devices string) error {
	if key == "" {
		key = VisibleDevicesKey
	}
	if _, err := ParseVisibleDevices(devices); err != nil {
		return err
	}
	return os.Setenv(key, devices)
}

// ParseVisibleDevices parses a comma separated list of device indices.
func ParseVisibleDevices(val string) ([]int, error) {
	if strings.TrimSpace(val) == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid device index %q in %q", p, val)
		}
		ids = append(ids, n)
	}
	if dups := lo.FindDuplicates(ids); len(dups) > 0 {
		return nil, fmt.Errorf("duplicate device indices %v in %q", dups, val)
	}
	return ids, nil
}
