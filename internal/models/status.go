package models

// StatusPayload is the raw server response to a status poll. The backend
// may place its authoritative fields at the top level or nested under a
// "job" key; use the pipeline normalizer rather than reading fields here.
// Payloads are transient and consumed immediately.
type StatusPayload map[string]interface{}

// GetString retrieves a string field from the payload
func (p StatusPayload) GetString(key string) (string, bool) {
	val, ok := p[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// Job returns the nested job object if the payload carries one
func (p StatusPayload) Job() (StatusPayload, bool) {
	val, ok := p["job"]
	if !ok {
		return nil, false
	}
	nested, ok := val.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return StatusPayload(nested), true
}
