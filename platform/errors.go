package platform

import (
	"errors"
)

// Controller errors.
var InvalidHart = errors.New("Invalid hart?")
var InvalidSource = errors.New("Invalid interrupt source?")

// Doorbell errors.
var DoorbellClosed = errors.New("Doorbell closed.")
