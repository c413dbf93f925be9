package platform

import (
	"strconv"
)

// Source is a platform interrupt source id.
//
// Zero is reserved: the controller reports it when nothing is pending.
type Source uint32

// Hart is a hardware thread (core) id.
type Hart uint32

const NoSource Source = 0

func (source Source) String() string {
	return strconv.FormatUint(uint64(source), 10)
}

func (hart Hart) String() string {
	return strconv.FormatUint(uint64(hart), 10)
}
