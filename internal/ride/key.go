package ride

import (
	"fmt"
	"strings"
)

// KeyField names the column rides are grouped by
type KeyField string

// Supported grouping keys
const (
	KeyDriver KeyField = "driver"
	KeyClient KeyField = "client"
)

// KeySelector extracts the grouping key from a ride
type KeySelector func(Ride) string

// ParseKeyField accepts "driver" or "client" and the export column names
// "id_driver" and "id_client"
func ParseKeyField(s string) (KeyField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "driver", "id_driver":
		return KeyDriver, nil
	case "client", "id_client":
		return KeyClient, nil
	default:
		return "", fmt.Errorf("unknown key field %q (want driver or client)", s)
	}
}

// Selector returns the extractor for the field
func (f KeyField) Selector() (KeySelector, error) {
	switch f {
	case KeyDriver:
		return func(r Ride) string { return r.DriverID }, nil
	case KeyClient:
		return func(r Ride) string { return r.ClientID }, nil
	default:
		return nil, fmt.Errorf("unknown key field %q", string(f))
	}
}

func (f KeyField) String() string {
	return string(f)
}
