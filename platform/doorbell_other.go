//go:build !linux

package platform

import (
	"sync"
)

// Doorbell is the portable rendition of the eventfd
// doorbell: a counter and a one-slot notification channel.
type Doorbell struct {
	mu     sync.Mutex
	count  uint64
	closed bool
	notify chan struct{}
}

func NewDoorbell() (*Doorbell, error) {
	return &Doorbell{notify: make(chan struct{}, 1)}, nil
}

func (bell *Doorbell) Ring() error {
	bell.mu.Lock()
	if bell.closed {
		bell.mu.Unlock()
		return DoorbellClosed
	}
	bell.count += 1

	// Close can't run while we hold mu.
	select {
	case bell.notify <- struct{}{}:
	default:
	}
	bell.mu.Unlock()
	return nil
}

func (bell *Doorbell) Wait() (uint64, error) {
	for {
		bell.mu.Lock()
		if bell.closed {
			bell.mu.Unlock()
			return 0, DoorbellClosed
		}
		if bell.count > 0 {
			count := bell.count
			bell.count = 0
			bell.mu.Unlock()
			return count, nil
		}
		bell.mu.Unlock()
		<-bell.notify
	}
}

func (bell *Doorbell) Close() error {
	bell.mu.Lock()
	defer bell.mu.Unlock()
	if !bell.closed {
		bell.closed = true
		close(bell.notify)
	}
	return nil
}
