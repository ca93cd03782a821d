package notify

import (
	"context"
)

const defaultQueueSize = 256

// queue decouples Publish from slow delivery. When full, the oldest notification is dropped.
type queue struct {
	ch chan Notification
}

func newQueue(size int) queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return queue{ch: make(chan Notification, size)}
}

// push returns false if a notification had to be dropped.
func (q queue) push(n Notification) bool {
	dropped := false
	for {
		select {
		case q.ch <- n:
			return !dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
		default:
		}
	}
}

func (q queue) run(ctx context.Context, deliver func(Notification)) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q.ch:
			deliver(n)
		}
	}
}
