// Package storage provides courier's persistence layer.
//
// It owns three durable collections:
//   - Messages: append-only records of attempted/completed deliveries
//   - Contacts: the recipient registry
//   - Deliveries: the durable queue backing the queued transport
//
// Messages are immutable once inserted; only the administrative Reset
// removes them. Identifier assignment is atomic and monotonic per
// collection, and the query surface relies on that order.
package storage
