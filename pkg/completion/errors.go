package completion

import (
	"errors"
	"fmt"
)

// ViolationKind classifies a ProtocolViolation.
type ViolationKind int

const (
	// DuplicateTag: Register was called for a tag that is already outstanding.
	DuplicateTag ViolationKind = iota + 1
	// UnknownTag: Extract was called for a tag that is not outstanding.
	UnknownTag
)

func (k ViolationKind) String() string {
	switch k {
	case DuplicateTag:
		return "DUPLICATE_TAG"
	case UnknownTag:
		return "UNKNOWN_TAG"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrDuplicateTag = errors.New("completion tag already registered")
	ErrUnknownTag   = errors.New("completion tag not registered")
)

// ProtocolViolation is the panic value raised by Registry when the issuer or the
// pump breaks the register/extract protocol. It is never returned as an ordinary
// error: continuing after one risks delivering a completion to the wrong callback.
type ProtocolViolation struct {
	Kind ViolationKind
	Tag  Tag
}

func (v *ProtocolViolation) Error() string {
	return fmt.Sprintf("%s: tag %s: %v", v.Kind, v.Tag, v.Unwrap())
}

// Unwrap returns ErrDuplicateTag or ErrUnknownTag.
func (v *ProtocolViolation) Unwrap() error {
	switch v.Kind {
	case DuplicateTag:
		return ErrDuplicateTag
	case UnknownTag:
		return ErrUnknownTag
	default:
		return nil
	}
}
