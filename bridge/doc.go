// Package bridge wraps a companion-device data layer (point-to-point
// messages, a replicated path-addressed data-item store, and capability
// discovery) behind context-aware single-shot calls and broadcast event
// streams.
//
// A [Bridge] owns no persistent state. Every operation resolves its
// targets through the [DataLayer], issues the request, and returns one
// value or one error; failures from the data layer are returned wrapped
// but otherwise unchanged, and nothing is retried. [Go] runs any
// operation on its own goroutine when the caller wants an asynchronous
// result.
//
// Stored items are [proto.Envelope] values: a single item, a list of
// items, or a raw map. SyncData and SyncDataArray write the first two;
// GetData and GetDataArray read them back; GetAllData returns the flat
// map of every matching item as stored.
//
// Push notifications arrive through OnMessageReceived, OnDataChanged and
// OnCapabilityChanged, either from the data layer after [Bridge.Bind] or
// forwarded by a host service. They are published on three typed topics
// (Messages, Data and Capabilities). A
// data-changed push holding a list emits one DataChange per element.
//
// Bind returns a [Binding] handle. Bindings are reference counted: the
// Bridge registers with the data layer once, however many handles are
// open, and deregisters when the last one is closed.
package bridge
