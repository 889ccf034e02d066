// Package app provides the composition layer of the application host.
//
// # Architecture Role
//
// The app package wires the registry, the deployment directory, the
// lifecycle controller and the status reporter into one Application that
// cmd/appserver runs. It is NOT a business logic layer: the rules for
// resolution, registration and loading live in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and start/stop
//	├── domain/             # Pure data: module descriptors, deployments, states
//	│   ├── module/
//	│   └── deployment/
//	├── storage/            # Store interfaces
//	│   ├── memory/         # In-memory stores (default, tests)
//	│   └── postgres/       # sqlx/PostgreSQL stores
//	├── services/
//	│   ├── modules/        # Module registry and dependency resolver
//	│   ├── deployments/    # Deployment directory
//	│   ├── lifecycle/      # Load/unload state machine and locking
//	│   ├── status/         # Combined status snapshot
//	│   └── reconcile/      # Periodic re-resolution and stale-load recovery
//	├── httpapi/            # REST handlers and routing
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Process assembly from config
//	└── system/             # Service lifecycle manager
//
// # Dependency Direction
//
//	cmd/appserver/
//	      │
//	      ▼
//	internal/app/runtime  ──►  internal/config, internal/middleware
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ ──► internal/app/storage/
//	      │           │
//	      │           └──► internal/hosting/ (runtimes)
//	      │
//	      └──► internal/repository/ (module catalog)
//
// Module mutations re-resolve every descriptor and re-validate every
// deployment before the registry lock is released, so readers never see a
// descriptor whose IsResolved flag disagrees with the registry contents.
package app
