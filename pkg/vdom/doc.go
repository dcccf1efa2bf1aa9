// Package vdom provides the node model of weft and the operations that put
// it on a surface.
//
// # Core Types
//
// Node is a tagged union discriminated by Kind: Root (one child plus hooks
// and a pool of static fragments), Element, Text, Comment, Multi (siblings
// without a wrapper) and Static (a clone of a pool fragment).
//
// # Mounting
//
// Mount materializes a tree under a surface.Target. Subtrees are built
// detached and inserted once, and each Root's Create hook fires exactly once
// when its child first becomes attached.
//
// # Reconciliation
//
// Reconcile patches a mounted tree towards a new one. Nodes with the same
// kind, key (and tag for elements) keep their primitives; anything else is
// replaced. Sibling lists are scanned from both ends first, then matched by
// identity with moves limited to nodes outside the longest increasing run.
// The old tree is overwritten in place so it can be reconciled again.
package vdom
