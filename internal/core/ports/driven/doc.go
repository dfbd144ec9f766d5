// Package driven defines the outbound ports of the sync core: the
// capabilities the engine consumes (remote shell, filesystem watch,
// markdown conversion, persistence). Adapters under
// internal/adapters/driven implement them.
package driven
