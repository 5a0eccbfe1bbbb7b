// Package index manages the lifecycle of a near-real-time full-text index.
//
// A Lifecycle owns one bleve store, a single Writer that buffers mutations
// and hands out generation tokens, a ViewManager that publishes
// point-in-time read views, and a ReopenCoordinator goroutine that moves
// the published view forward with bounded staleness.
//
// Writes are not searchable when they return. A caller that needs to read
// its own write acquires a view with the generation it was given:
//
//	gen, _ := lc.AddDocument(doc)
//	err := lc.WithView(ctx, gen, func(v *View) error {
//		// v reflects every mutation up to and including gen
//		return nil
//	})
//
// The Engine type maps the host database's index engine contract onto a
// Lifecycle, and Registry keeps the lifecycles of one storage by name.
package index
