// Package fiber schedules component renders and commits them to a surface.
//
// Every render request becomes a fiber. A fiber whose parent is not
// rendering is a root: it owns a counter of unfinished fibers in its
// subtree, a future and the queue of fibers it created. Rendering a unit
// creates a child fiber for every component placeholder in its output; the
// placeholder node is filled once the child has rendered, which may wait
// on an asynchronous setup. The scheduler commits a root on the first tick
// after its counter reaches zero, so a subtree reaches the surface all at
// once or not at all.
//
// A unit has at most one fiber in flight. Requesting a render of a unit
// that already has one takes the fiber over; a parent render that reaches
// a child with its own pending root cancels that root and resolves its
// future with the parent's.
//
// Typical use with a loop goroutine:
//
//	doc := surface.New()
//	s := fiber.New(doc, template.NewRegistry())
//	go s.Run(ctx)
//	s.Post(func() {
//		_, fut := s.Mount(app, doc.Target(doc.Body()), nil)
//		...
//	})
//
// Tests and command-line tools drive the loop directly with Await.
package fiber
