package models

import "fmt"

type Category string

const (
	CategoryArticle   Category = "article"
	CategoryEmail     Category = "email"
	CategoryEpub      Category = "epub"
	CategoryHighlight Category = "highlight"
	CategoryNote      Category = "note"
	CategoryPDF       Category = "pdf"
	CategoryRSS       Category = "rss"
	CategoryTweet     Category = "tweet"
	CategoryVideo     Category = "video"
)

// ParseCategory rejects anything outside the closed set the store accepts.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(raw); c {
	case CategoryArticle, CategoryEmail, CategoryEpub, CategoryHighlight, CategoryNote,
		CategoryPDF, CategoryRSS, CategoryTweet, CategoryVideo:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", raw)
	}
}

func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

type Location string

const (
	LocationArchive   Location = "archive"
	LocationFeed      Location = "feed"
	LocationLater     Location = "later"
	LocationNew       Location = "new"
	LocationShortlist Location = "shortlist"
)

// DefaultLocation fills documents the API returns without a location.
const DefaultLocation = LocationNew

func ParseLocation(raw string) (Location, error) {
	switch l := Location(raw); l {
	case LocationArchive, LocationFeed, LocationLater, LocationNew, LocationShortlist:
		return l, nil
	default:
		return "", fmt.Errorf("unknown location %q", raw)
	}
}

func (l Location) Valid() bool {
	_, err := ParseLocation(string(l))
	return err == nil
}
