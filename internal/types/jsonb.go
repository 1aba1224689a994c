package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*PlanFeatures)(nil)
	_ driver.Valuer = PlanFeatures(nil)
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
)

// PlanFeatures holds arbitrary per-plan feature flags and limits as JSON.
// Mirrors the metadata a product carries in Stripe so the local row can be
// queried without a provider round trip.
type PlanFeatures map[string]any

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (f *PlanFeatures) Scan(value interface{}) error {
	return scanJSONB(f, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (f PlanFeatures) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// Metadata is a string-to-string map stored as JSONB, matching the shape of
// Stripe resource metadata.
type Metadata map[string]string

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *Metadata) Scan(value interface{}) error {
	return scanJSONB(m, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}
