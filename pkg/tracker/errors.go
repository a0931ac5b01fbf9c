package tracker

import "errors"

// Non-fatal error kinds per spec §7. None of these abort a load, an
// evaluation, or the process; they are returned (and logged by the caller)
// so the specific offending blob/descriptor/atom can be reported, while
// everything else continues.
var (
	// ErrMalformedBlob is returned by AddItems/AddLocations/AddMaps/
	// AddLayouts when the top-level shape of a declaration blob is not
	// recognized. Previously loaded data is left intact.
	ErrMalformedBlob = errors.New("tracker: malformed declaration blob")

	// ErrUnknownItemType is recorded (not returned to the caller as a
	// hard failure) when a single item descriptor names a type the
	// tracker does not recognize; that descriptor is skipped.
	ErrUnknownItemType = errors.New("tracker: unknown item type")

	// ErrSectionNotFound is returned by GetSection when no section
	// matches the requested path.
	ErrSectionNotFound = errors.New("tracker: section not found")

	// ErrLocationNotFound is returned by GetLocation when no location
	// matches the requested id/name.
	ErrLocationNotFound = errors.New("tracker: location not found")

	// ErrStateShape is returned by Load when the state document is not
	// a recognizable tracker state document at all.
	ErrStateShape = errors.New("tracker: malformed state document")

	// ErrStateVersion is returned by Load when format_version is present
	// but not the one version this tracker understands.
	ErrStateVersion = errors.New("tracker: unsupported state format_version")
)
