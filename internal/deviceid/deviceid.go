// Package deviceid resolves and persists the stable node identifier every
// outgoing Message carries as DeviceID.
package deviceid

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"go.mcrelay.dev/multicliprelay/internal/paths"
)

// Load returns explicit if non-empty, otherwise the id persisted under
// stateDir, generating and persisting a new uuid on first run.
func Load(stateDir, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	p := paths.DeviceIDPath(stateDir)
	if b, err := os.ReadFile(p); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err == nil {
		_ = os.WriteFile(p, []byte(id+"\n"), 0o600)
	}
	return id, nil
}
