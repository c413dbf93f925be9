package machine

import (
	"errors"
	"fmt"
)

// Model errors.
var InterruptConflict = errors.New("Device interrupt conflict!")
var DeviceConflict = errors.New("Device name conflict!")
var DeviceNotFound = errors.New("Device not found!")
var DeviceDetached = errors.New("Device not attached!")

// Block errors.
var BlockOutOfRange = errors.New("Sector out of range!")
var BlockBadBuffer = errors.New("Buffer is not one sector.")
var BlockReadOnly = errors.New("Block device is read-only!")
var BlockOutOfOrder = errors.New("Woken before our request completed?")
var BlockNoBacking = errors.New("Block device has no size and no path.")

// UART errors.
var UartNoInterrupt = errors.New("UART has no interrupt.")

// Driver errors.
func DriverUnknown(name string) error {
	return fmt.Errorf("Unknown driver: %s", name)
}
