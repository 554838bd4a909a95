package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

// headers are sorted so dumps diff cleanly between runs
func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		for _, v := range headers[k] {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(contents)
}

func formatHttpMessage(res *resty.Response) string {
	responseUrl := res.Request.URL
	if redirected, err := res.RawResponse.Location(); err == nil {
		responseUrl = redirected.String()
	}

	var out strings.Builder
	fmt.Fprintf(&out, "---- REQUEST ----\n\n%s %s\n\n", res.Request.Method, res.Request.URL)
	fmt.Fprintf(&out, "%s\n\n%s\n\n", formatHeaders(res.Request.RawRequest.Header), formatRequestBody(res.Request.RawRequest))
	fmt.Fprintf(&out, "---- RESPONSE ----\n\n%d %s\n\n", res.StatusCode(), responseUrl)
	fmt.Fprintf(&out, "%s\n\n%s", formatHeaders(res.Header()), res.String())
	return out.String()
}
