package domain

// FetchRequest describes one document fetch.
type FetchRequest struct {
	URL string
	// Render asks the scraping proxy to execute JavaScript before returning the body.
	Render bool
}

// Delivery is a reply ready for the transport. Parts are already within the
// platform's length limit and, when HTML is set, valid in its HTML dialect.
type Delivery struct {
	ChatID   int64
	ThreadID int
	ReplyTo  int
	Parts    []string
	HTML     bool
}
