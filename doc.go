// Copyright 2015 Aleksandr Demakin. All rights reserved.

/*
Package memglass is a shared-memory telemetry substrate for live
introspection of a running process. A producer exposes named, typed
objects residing in its own memory; out-of-process observers attach
by session name, discover the schema, and read field values directly
from the shared mappings while the producer keeps mutating them.

The producer opens a session, registers types, allocates objects in
session memory and publishes them under labels:

	ctx, err := memglass.OpenSession("trading", memglass.DefaultConfig())
	...
	quoteType, err := ctx.RegisterType("Quote", 16, []memglass.Field{
		{Name: "bid", TypeID: memglass.TypeFloat64, Offset: 0, Size: 8, Atomicity: memglass.AtomicityAtomic},
		{Name: "ask", TypeID: memglass.TypeFloat64, Offset: 8, Size: 8, Atomicity: memglass.AtomicityAtomic},
	})
	ptr, err := ctx.Allocate(16, 8)
	_, err = ctx.RegisterObject(ptr, quoteType, "eurusd")

An observer in another process attaches read-only:

	obs, err := memglass.NewObserver("trading")
	err = obs.Connect()
	...
	for _, obj := range obs.Objects() {
		view := obs.Get(obj)
		bid, ok := view.Field("bid").Float64()
		...
	}

The fast path needs no coordination: the producer is the single
writer, publication is a release-store of a visibility word, and
observers pair it with an acquire load. The session dies with the
producer; Close unlinks every shared memory name.
*/
package memglass
