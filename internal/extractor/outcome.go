package extractor

// Sentinel values written in place of real data.
const (
	NameUnknown       = "Unknown attraction"
	NameRequestFailed = "Request failed"
	NameError         = "Error"
	NameDisallowed    = "Disallowed"

	DurationNotFound = "No visit duration data found"
)

// Outcome is the record kept for one input URL. Success is true only when Duration
// was read from the page.
type Outcome struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
	Success  bool   `json:"success"`
}

// Outcome attaches the source URL to an extraction result.
func (r Result) Outcome(url string) Outcome {
	return Outcome{
		Name:     r.Name,
		URL:      url,
		Duration: r.Duration,
		Success:  r.Success,
	}
}

// Failed builds a failed outcome with the given name and description.
func Failed(url, name, description string) Outcome {
	return Outcome{Name: name, URL: url, Duration: description, Success: false}
}
