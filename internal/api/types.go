package api

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// refreshRequest is the body of POST /api/v1/feed/refresh.
type refreshRequest struct {
	Domain string `json:"domain"`
	Hours  int    `json:"hours"`
}

// ingestRequest is the body of POST /api/v1/items. IDs are optional;
// acquisition services that have no stable identifier get one assigned.
type ingestRequest struct {
	ID              string `json:"id"`
	Domain          string `json:"domain"`
	Title           string `json:"title"`
	Abstract        string `json:"abstract"`
	Source          string `json:"source"`
	URL             string `json:"url"`
	PublishedAt     string `json:"published_at"`
	ValidatedSource bool   `json:"validated_source"`
}

// ingestResponse reports the upsert outcome.
type ingestResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
	Time        string `json:"time"`
}
