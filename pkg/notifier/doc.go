// Package notifier provides a small, type-safe observer list with
// synchronous, ordered, failure-isolated dispatch.
//
// Unlike a channel-based broadcaster, handlers run on the publishing
// goroutine in subscription order, which keeps event ordering identical
// to the order in which state changes completed. A panicking handler is
// recovered and logged without affecting the other handlers or the
// publisher.
//
// For consumers that prefer select loops over callbacks, Events bridges a
// subscription to a buffered channel with drop-on-full semantics.
//
// Basic usage:
//
//	n := notifier.New[string]()
//	defer n.Close()
//
//	sub := n.Subscribe(func(v string) { fmt.Println(v) })
//	defer n.Unsubscribe(sub)
//
//	n.Publish("hello")
package notifier
