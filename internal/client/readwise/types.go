package readwise

import (
	"encoding/json"
	"fmt"
)

// Page is one response of the list endpoint. Results are kept raw so a single
// bad record can be rejected without losing the rest of the page.
type Page struct {
	Count          int
	NextPageCursor string
	Results        []json.RawMessage
}

// HasNext reports whether another page follows.
func (p Page) HasNext() bool {
	return p.NextPageCursor != ""
}

type listEnvelope struct {
	Count          *int               `json:"count"`
	NextPageCursor *string            `json:"nextPageCursor"`
	Results        *[]json.RawMessage `json:"results"`
}

func parsePage(body []byte) (Page, error) {
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Results == nil {
		return Page{}, fmt.Errorf("%w: missing results", ErrMalformedResponse)
	}
	page := Page{Results: *env.Results}
	if env.Count != nil {
		page.Count = *env.Count
	}
	if env.NextPageCursor != nil {
		page.NextPageCursor = *env.NextPageCursor
	}
	return page, nil
}
