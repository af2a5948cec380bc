// Package fingerprint computes the content-addressed cache key for an
// optimization request.
//
// Two requests that differ only in the order of their ID lists produce
// the same fingerprint; any change to list membership or to the
// configuration produces a different one.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalRequest is the normalized structure that gets hashed. Field
// order is fixed by the struct definition, list order by sorting.
type canonicalRequest struct {
	ConfigurationID string   `json:"configurationId"`
	VehicleIDs      []string `json:"vehicleIds"`
	DriverIDs       []string `json:"driverIds"`
	PendingOrderIDs []string `json:"pendingOrderIds"`
}

// Compute returns the hex-encoded SHA-256 fingerprint of the
// normalized request. Pure function; the inputs are not mutated.
func Compute(configurationID string, vehicleIDs, driverIDs, pendingOrderIDs []string) string {
	canon := canonicalRequest{
		ConfigurationID: configurationID,
		VehicleIDs:      sorted(vehicleIDs),
		DriverIDs:       sorted(driverIDs),
		PendingOrderIDs: sorted(pendingOrderIDs),
	}

	// Marshaling a struct of strings and string slices cannot fail.
	payload, _ := json.Marshal(canon)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func sorted(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
