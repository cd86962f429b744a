// Package api hosts the HTTP server for the property collection:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /api/scrape triggers one crawl and merge.
//   - GET /api/props, /api/props/{id} and /api/stats read the collection.
//   - GET /uploads/* serves files under the upload root.
package api
