package amazon

import "fmt"

// AffiliateLink builds the storefront URL for an ASIN, tagged with the
// associate tag when one is configured.
func (c *Client) AffiliateLink(asin string) string {
	if c.associateTag != "" {
		return fmt.Sprintf("https://www.%s/dp/%s?tag=%s", c.mkt.Domain, asin, c.associateTag)
	}
	return fmt.Sprintf("https://www.%s/dp/%s", c.mkt.Domain, asin)
}

// AffiliateLink builds a storefront URL without a client, for callers that
// only know the region. An unknown region falls back to the Italian store,
// matching the bot's default marketplace.
func AffiliateLink(asin, region, associateTag string) string {
	mkt, ok := marketplaces[region]
	if !ok {
		mkt = marketplaces["IT"]
	}
	if associateTag != "" {
		return fmt.Sprintf("https://www.%s/dp/%s?tag=%s", mkt.Domain, asin, associateTag)
	}
	return fmt.Sprintf("https://www.%s/dp/%s", mkt.Domain, asin)
}
