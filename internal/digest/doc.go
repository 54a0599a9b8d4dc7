// Package digest generates curated digests from the feed on behalf of
// the schedule engine: select, cluster, pick, title, record. Rendering
// and delivery of digest content are downstream concerns; the package
// persists the curated selection only.
package digest
