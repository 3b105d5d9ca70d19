// Package payload defines the CMS document shapes sitepulse reads and writes,
// and the query encoding used against the core and per-site databases.
//
// # Filters
//
// Filters are built from small helpers and rendered into the bracketed query
// string the REST API expects:
//
//	q := payload.Query{
//		Where: payload.And(
//			payload.Equals("site", siteID),
//			payload.SlugOrID("sword-1"),
//		),
//		Depth: 1,
//		Limit: 1,
//	}
//	url := q.URL(coreURL + "/api/entries")
//	// .../api/entries?where[or][0][slug][equals]=sword-1&where[or][1][id][equals]=sword-1&where[site][equals]=...&depth=1&limit=1
//
// # Site patches
//
// SitePatch omits zero totals and empty trending lists when encoded, so a
// patch never overwrites a stored aggregate with an observed zero.
package payload
