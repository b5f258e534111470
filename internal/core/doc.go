// Package core provides the business logic behind billing imports and the
// billing REST API.
//
// The package is independent of any transport. Web handlers, the billingctl
// CLI and tests all drive the same [Service].
//
// # Imports
//
// A CSV import runs as one batch in one unit of work:
//
//  1. The web layer spools the upload and calls [Service.StartImport], or the
//     CLI calls [Service.ImportReader] with an open file.
//  2. The service acquires a slot from the [ImportLimiter] and starts an
//     [ingest.Coordinator] with the requested failure policy.
//  3. Progress is broadcast to subscribers via [Service.SubscribeProgress].
//  4. The final report is kept for a while and returned by
//     [Service.GetImportResult].
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB006: storage errors (duplicates, constraints, connectivity)
//   - FILE001-FILE006: upload errors (size, header, empty file, type)
//   - IMP001-IMP004: import errors (cancelled, busy, unknown ID, rolled back)
//   - CUS001-CUS003: customer errors
//   - PLT001: unknown platform
//   - REQ001, RATE001: malformed or throttled requests
package core
