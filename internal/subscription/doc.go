// Package subscription holds the core domain types for the billing
// lifecycle: the per-user subscription record, its status state machine,
// and the error taxonomy shared by every engine that mutates records.
//
// The package is persistence-free. Repositories and engines depend on it;
// it depends on nothing but the standard library and uuid.
package subscription
