package runtimeexec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func isReservedJobEnvKey(key string) bool {
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "MODEL_PORT", "MODEL_HOST":
		return true
	default:
		return false
	}
}

// ParseMount reads src:dst[:ro|rw].
func ParseMount(raw string) (Mount, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Mount{}, fmt.Errorf("invalid mount %q, want src:dst[:ro]", raw)
	}
	m := Mount{Source: parts[0], Target: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			m.ReadOnly = true
		case "rw":
		default:
			return Mount{}, fmt.Errorf("invalid mount mode %q", parts[2])
		}
	}
	return m, nil
}

func (m Mount) String() string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

func graceSeconds(grace time.Duration) string {
	secs := int(grace.Round(time.Second) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return strconv.Itoa(secs)
}
