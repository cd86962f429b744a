// Package crawler defines the listing domain shared by the extraction
// pipeline: canonical property records, the error taxonomy, the collaborator
// interfaces implemented by fetchers and stores, and the dedup merge.
package crawler
