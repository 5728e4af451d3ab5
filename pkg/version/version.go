package version

// Version is the current version of the convometrics server
const Version = "0.0.12"

// UserAgent returns the User-Agent string for HTTP requests
func UserAgent() string {
	return "convometrics/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "convometrics/" + Version
}
