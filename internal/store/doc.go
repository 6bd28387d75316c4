// Package store owns the canonical JSON store document: its schema, atomic
// load/save, derived count maps, and the consistency validator that guards
// every integration.
package store
