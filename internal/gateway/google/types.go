package google

// searchResponse is the JSON response from the Custom Search endpoint.
type searchResponse struct {
	SearchInformation searchInformation `json:"searchInformation"`
	Items             []searchHit       `json:"items"`
}

// searchInformation carries the approximate total result count. The API
// reports it as a decimal string.
type searchInformation struct {
	TotalResults string `json:"totalResults"`
}

// searchHit is a single image result.
type searchHit struct {
	Title string   `json:"title"`
	Link  string   `json:"link"`
	Image imageRef `json:"image"`
}

// imageRef holds image-specific fields of a hit.
type imageRef struct {
	ThumbnailLink string `json:"thumbnailLink"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

// errorResponse is the error body shape the API returns on non-2xx status.
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
