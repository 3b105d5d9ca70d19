package payload

// EligibleSitesPageSize is the default "limit" for EligibleSitesQuery
const EligibleSitesPageSize = 100

// EligibleSitesQuery lists one page of sites with both analytics identifiers
// set, along with the collections needed to route entry lookups. It takes
// the 1-based "page" and the "limit" as variables.
const EligibleSitesQuery = `query EligibleSites($page: Int, $limit: Int) {
  siteData: Sites(
    where: { gaTagId: { exists: true }, gaPropertyId: { exists: true } }
    limit: $limit
    page: $page
  ) {
    docs {
      id
      name
      type
      slug
      gaPropertyId
      gaTagId
      collections {
        id
        slug
        customDatabase
      }
    }
    page
    totalPages
    hasNextPage
  }
}`

// EligibleSitesResponse is the data payload of EligibleSitesQuery
type EligibleSitesResponse struct {
	SiteData PaginatedDocs[Site] `json:"siteData"`
}
