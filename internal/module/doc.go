// Package module holds the engine's data model and the two checks that run
// before any process is spawned: module discovery (the Registry) and
// parameter validation (Validate).
//
// A module is an external executable that describes itself. Invoked as
// `<exe> metadata` it prints a JSON document listing its actions and the
// JSON Schema of each action's input. Documents are checked against a fixed
// meta-schema at load time; a module that fails the check contributes no
// actions at all.
//
// The Registry is populated once at startup and is read-only afterwards, so
// it is shared between concurrent dispatches without locking.
package module
