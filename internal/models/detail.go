package models

// DetailLevel controls how much payload the backend includes in a
// status response.
type DetailLevel string

const (
	DetailLite DetailLevel = "lite"
	DetailFull DetailLevel = "full"
)

// IsValid reports whether the detail level is a recognized value
func (d DetailLevel) IsValid() bool {
	return d == DetailLite || d == DetailFull
}

func (d DetailLevel) String() string {
	return string(d)
}
