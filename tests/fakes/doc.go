// Package fakes declares no test doubles. The control plane's package
// tests define their own hand-written fakes (backends, resolvers,
// samplers, schedulers) next to the tests that use them, use
// store.MemStore in place of a database, and use httptest servers in
// place of webhook endpoints.
package fakes
