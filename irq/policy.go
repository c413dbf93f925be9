package irq

import (
	"fmt"
)

// Policy is what the host does with a Fault.
type Policy int

const (
	// Stop every hart and exit.
	PolicyHalt Policy = iota

	// Re-execute the kernel from scratch.
	PolicyRestart

	// Log it, clear what can be cleared, keep going.
	PolicyContinue
)

var policies = map[string]Policy{
	"halt":     PolicyHalt,
	"restart":  PolicyRestart,
	"continue": PolicyContinue,
}

func ParsePolicy(name string) (Policy, error) {
	policy, ok := policies[name]
	if !ok {
		return PolicyHalt, fmt.Errorf("%w: %q", InvalidPolicy, name)
	}
	return policy, nil
}

func (policy Policy) String() string {
	for name, value := range policies {
		if value == policy {
			return name
		}
	}
	return fmt.Sprintf("policy(%d)", int(policy))
}
