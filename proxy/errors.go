package proxy

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"
)

// errorBody is the fixed table of user-facing messages the gateway renders
// for each rejection status. Anything not listed here falls back to the
// "other" message.
var errorBody = map[int]string{
	http.StatusBadRequest:         "You performed an invalid request.",
	http.StatusNotFound:           "The requested proxy was not found. Please check the domain and try again.",
	http.StatusBadGateway:         "The requested proxy is malfunctioning.",
	http.StatusServiceUnavailable: "The gateway is experiencing problems. Please try again later.",
	http.StatusGatewayTimeout:     "The requested proxy is unavailable.",
}

const fallbackErrorBody = "The service experienced an error"

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Code}} {{.Reason}}</title></head>
<body><p>{{.Message}}</p></body>
</html>
`))

type errorPageData struct {
	Code    int
	Reason  string
	Message string
}

func messageFor(status int) string {
	if m, ok := errorBody[status]; ok {
		return m
	}
	return fallbackErrorBody
}

// renderErrorPage renders the HTML error page for status; it is the only
// content the gateway ever emits itself (everything else is spliced
// through from the listener untouched).
func renderErrorPage(status int) []byte {
	var buf bytes.Buffer
	data := errorPageData{Code: status, Reason: http.StatusText(status), Message: messageFor(status)}
	// The template is static and trusted; a render failure here would be a
	// programming error, not a runtime condition to recover from.
	if err := errorPageTemplate.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("proxy: error page template: %v", err))
	}
	return buf.Bytes()
}

// writeErrorResponse writes a complete HTTP/1.1 response carrying the fixed
// HTML error page for status.
func writeErrorResponse(w io.Writer, status int) error {
	body := renderErrorPage(status)
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
	return err
}
