package control

import (
	"errors"
)

var InvalidControlSocket = errors.New("Invalid control socket?")
var InvalidHeader = errors.New("Invalid header?")
var NotAUart = errors.New("Device is not a uart!")
