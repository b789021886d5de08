// Package core defines the shared execution substrate of PolyMesh: the
// Environment every engine reads and writes, the Context that scopes one
// logical thread of execution (object registry, memory, call depth,
// incognito and mock state), and the identifier validation applied at every
// dispatch boundary.
//
// A Context is threaded explicitly through every call; nothing in PolyMesh
// resolves state through thread locals or globals. By construction a Context
// is never accessed concurrently, so none of its state needs locking.
package core
