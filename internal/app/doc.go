// Package app composes the social graph components into a running
// application.
//
// # Package Structure
//
//	internal/app/
//	└── application.go   # wiring and lifecycle
//
// # Dependency Direction
//
//	cmd/socialgraph/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/relationship (edges, block cascade, toggles, repair)
//	      ├──► internal/visibility   (exclusion sets and cache)
//	      ├──► internal/listing      (ordered user lists)
//	      ├──► internal/poststats    (reply and like aggregates)
//	      └──► internal/storage      (backend ports and adapters)
//
// The HTTP surface in internal/httpapi and the unread tracker in
// internal/notifications are built from the fields of Application.
package app
