package sched

import (
	"errors"
	"fmt"
)

var InvalidTask = errors.New("Invalid task?")
var TaskOwned = errors.New("Task already owned by another queue!")
var NoCurrentTask = errors.New("No task running on hart!")
var NotCurrent = errors.New("Task is not the one running on its hart!")

// OwnershipError reports a task moving between queues
// from somewhere it was not.
type OwnershipError struct {
	Task   TaskId
	Want   Owner
	Actual Owner
	To     Owner
}

func (err *OwnershipError) Error() string {
	return fmt.Sprintf(
		"task %d: move %s -> %s, but owned by %s",
		err.Task, err.Want, err.To, err.Actual)
}

func (err *OwnershipError) Unwrap() error {
	return TaskOwned
}
