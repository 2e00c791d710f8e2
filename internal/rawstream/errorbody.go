package rawstream

// ErrorBody is the JSON body returned by the raw endpoint's pre-flight
// error paths (400/403/500), before the event stream begins.
type ErrorBody struct {
	Error string `json:"error"`
}
