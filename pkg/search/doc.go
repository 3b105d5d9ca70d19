// Package search provides the per-site name search used by the wiki's
// search box.
//
// Core mode queries the core database's search collection filtered to the
// site. Custom mode also queries the site's own database and merges both
// result sets by priority. Every hit is mapped to the link and label the
// front end renders:
//
//	customPages  /{site}/{slug}
//	collections  /{site}/c/{slug}                  List
//	entries      /{site}/c/{collectionEntity}/{id} Entry
//	posts        /{site}/p/{id}/{slug}             Post
//	other        /{site}/c/{relationTo}/{value}    relationTo
//
// Results are held in an expiring LRU for the same period the HTTP handler
// advertises in Cache-Control.
package search
