// Package testutil holds the stubs and fixtures shared by the package tests.
//
// Tests follow one of two styles, by package. The storage, configuration
// and wiring packages (config, database, kv, vault, encryption, app) use
// the standard testing package with table tests and t.Fatalf. The
// state-sync core (model, cache, history, query, state, localstore,
// identity, endpoint, remote, catalog) uses testify's require and assert.
// New tests follow the style of the package they land in.
package testutil
