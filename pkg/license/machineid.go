package license

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// MachineID fetches a stable identifier for this host.
func MachineID() (string, error) {
	return machineid.ID()
}

// ClientID returns an app-scoped hash of the machine id, so the raw id never
// leaves the host. Machines without a readable id get a random one per process.
func ClientID(app string) string {
	id, err := machineid.ProtectedID(app)
	if err != nil || id == "" {
		return uuid.NewString()
	}
	return id
}
