package types

// redactedPlaceholder is the string used to replace secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credentials the service must never echo: the Stripe
// secret key, the webhook signing secret, and the database URL. It overrides
// String() and MarshalJSON() to return a redacted placeholder, so secrets
// cannot leak through fmt functions, JSON output, or structured log entries.
//
// Use Unmask() to retrieve the raw plaintext value when it is genuinely needed
// (e.g., authorizing a Stripe API call or opening the connection pool).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
// This is invoked by fmt.Sprintf, fmt.Println, and any other function
// that uses the fmt.Stringer interface.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string, keeping
// secrets out of serialized config dumps and API responses.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret. Call sites should
// be limited to where the value is actually consumed: the Stripe client's
// Authorization header, webhook signature verification, and pgx pool setup.
func (s SecretString) Unmask() string {
	return string(s)
}
