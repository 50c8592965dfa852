package account

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Access answers the route layer's "may this user open this tool"
// question. The grants file maps tool name to an explicit user list;
// tools absent from the file are open to everyone.
type Access struct {
	mu     sync.RWMutex
	grants map[string][]string
}

func OpenAccess(path string) (*Access, error) {
	a := &Access{grants: make(map[string][]string)}
	data, err := os.ReadFile(path) //nolint:gosec // config-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("read access grants: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &a.grants); err != nil {
			return nil, fmt.Errorf("parse access grants: %w", err)
		}
	}
	return a, nil
}

// HasAccess reports whether userID may use the named tool.
func (a *Access) HasAccess(userID, tool string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	allowed, restricted := a.grants[tool]
	if !restricted {
		return true
	}
	for _, u := range allowed {
		if u == userID {
			return true
		}
	}
	return false
}
