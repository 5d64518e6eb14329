// Package registry is the event registry. Observers are registered
// explicitly, either as core observers or as part of an extension pack, and
// the set of resolvable "Handler.method" events is built per tenant from the
// core observers plus the extensions installed for that tenant.
//
// Each tenant's view is an immutable snapshot behind an atomic pointer.
// Installing or removing an extension bumps the tenant's generation token and
// the next read rebuilds the snapshot wholesale, so readers see either the
// old or the new snapshot and never a partial one.
package registry
