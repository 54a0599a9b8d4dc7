// Package triage filters ingested items through an external classifier
// before they surface in feeds. The boundary fails open: a classifier
// error or timeout passes the item through with the error recorded on
// the verdict, so a provider outage degrades precision, never
// availability.
package triage
