// Package resolver maps a classified page path to the document it displays.
//
// Custom pages and posts always live in the core database. Entries and
// collection lists are looked up in the site's custom database when the
// collection is flagged customDatabase. Otherwise they come from the core
// database, where site and collection filters are added. Only the
// {name, icon.url} projection is kept.
//
// A lookup that finds nothing yields (nil, nil). Callers exclude the page
// instead of failing the run.
package resolver
