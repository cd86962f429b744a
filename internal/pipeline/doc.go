// Package pipeline runs crawl passes over the search results page and folds
// their output into the persisted property collection.
//
// An Orchestrator performs one pass: it fetches the search page, extracts the
// listing stubs, and processes at most MaxListings of them one at a time with
// a politeness delay after each. An Ingestor wraps the Orchestrator, merges
// live results into a crawler.PropertyStore and announces the run.
package pipeline
