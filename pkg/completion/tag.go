// Package completion correlates completion-queue tags with the callbacks that
// must run exactly once when the tagged operation finishes.
package completion

import (
	"fmt"
	"sync/atomic"
)

// Tag identifies one in-flight operation. Two outstanding operations never share a Tag.
type Tag uintptr

func (t Tag) String() string {
	return fmt.Sprintf("0x%x", uintptr(t))
}

// tagSeq starts high so allocated tags stay clear of small hand-picked test values.
var tagSeq atomic.Uintptr

func init() {
	tagSeq.Store(1 << 20)
}

// nextTag returns a process-unique Tag.
func nextTag() Tag {
	return Tag(tagSeq.Add(1))
}
