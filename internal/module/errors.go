package module

import "fmt"

// DiscoveryError reports a modules directory that cannot be read or a
// candidate executable that was rejected.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("module discovery %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// UnknownActionError is returned when the requested module or action is not
// registered.
type UnknownActionError struct {
	Module string
	Action string
	// ModuleKnown is false when the module itself is missing.
	ModuleKnown bool
}

func (e *UnknownActionError) Error() string {
	if !e.ModuleKnown {
		return fmt.Sprintf("unknown module '%s'", e.Module)
	}
	return fmt.Sprintf("unknown action '%s' for module '%s'", e.Action, e.Module)
}

// ValidationError is returned when request parameters do not satisfy the
// action's input schema.
type ValidationError struct {
	Module string
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid params for %s.%s: %s: %s", e.Module, e.Action, e.Field, e.Reason)
}
