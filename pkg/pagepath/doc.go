// Package pagepath classifies analytics page paths into the kinds of wiki pages
// they address.
//
// Classification is pure and total: every path yields exactly one Page variant,
// and malformed paths become Unknown rather than errors. Consumers switch on the
// concrete type:
//
//	switch p := pagepath.Classify(row.Path, site.Slug).(type) {
//	case pagepath.Entry:
//		lookupEntry(p.CollectionSlug, p.EntrySlug)
//	case pagepath.Post:
//		lookupPost(p.Slug)
//	}
package pagepath
