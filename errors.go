package main

import (
	"errors"
)

var NoHarts = errors.New("Board has no harts!")
var HartsDied = errors.New("All harts stopped.")
var RestartRequested = errors.New("Restart requested.")
