package wire

import (
	"errors"
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const versionLogPrefix = "wire:version"

// DefaultProtocolVersion is the frame version this build speaks.
const DefaultProtocolVersion = "1.0.0"

// ErrIncompatibleVersion is returned when a peer's frame version falls outside the accepted range.
var ErrIncompatibleVersion = errors.New("incompatible protocol version")

// VersionChecker accepts frame versions satisfying a SemVer constraint.
type VersionChecker struct {
	raw         string
	constraints *masterminds.Constraints
}

// NewVersionChecker parses constraint (e.g. "^1.0.0").
func NewVersionChecker(constraint string) (*VersionChecker, error) {
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid constraint %q: %w", versionLogPrefix, constraint, err)
	}
	return &VersionChecker{raw: constraint, constraints: c}, nil
}

// Check returns nil if version satisfies the constraint.
func (vc *VersionChecker) Check(version string) error {
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q is not a semantic version", ErrIncompatibleVersion, version)
	}
	if !vc.constraints.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleVersion, v, vc.raw)
	}
	return nil
}

// String returns the constraint as given.
func (vc *VersionChecker) String() string {
	return vc.raw
}

// ValidateVersion reports whether version is a valid semantic version.
func ValidateVersion(version string) error {
	if _, err := masterminds.NewVersion(version); err != nil {
		return fmt.Errorf("%s - invalid version %q: %w", versionLogPrefix, version, err)
	}
	return nil
}
