// Package dispatch implements the delivery core: resolve a contact,
// compose a message, hand it to the configured transport, and record the
// delivery in the message store.
//
// The package is deliberately single-attempt: a failed dispatch is
// reported to the caller and never retried here. Retries belong to the
// caller (inline transport) or to the queue consumer (queued transport).
//
// History answers filtered, paginated reads over recorded messages. It
// reads the store directly and never goes through the Dispatcher.
package dispatch
