// Package catalog provides read-mostly plan reference data: the plans
// available for subscription, their pricing and tiering, and the
// comparison logic that classifies a requested change as an upgrade,
// downgrade, or lateral move.
//
// Plans are loaded once from a Source at startup and are immutable
// afterwards, so the catalog is safely shared without locking.
package catalog
