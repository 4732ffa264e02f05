package fetch

import (
	"regexp"
	"strings"
)

// linkRegex matches one Link header entry: <url>; rel="type" plus any
// further parameters.
var linkRegex = regexp.MustCompile(`^<([^>]+)>(.*)$`)

// linkParamRegex matches one ; key="value" parameter.
var linkParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// Link is one parsed entry of an RFC 5988 Link header.
type Link struct {
	URL    string
	Rel    string
	Params map[string]string
}

// ParseLinks parses a Link header into its entries.
func ParseLinks(header string) []Link {
	if header == "" {
		return nil
	}
	var links []Link
	for _, part := range strings.Split(header, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if matches == nil {
			continue
		}
		link := Link{URL: matches[1], Params: map[string]string{}}
		for _, param := range linkParamRegex.FindAllStringSubmatch(matches[2], -1) {
			link.Params[param[1]] = param[2]
		}
		link.Rel = link.Params["rel"]
		links = append(links, link)
	}
	return links
}

// NextLink extracts the "next" relation URL from the response's Link
// header, or "" when the chain is exhausted.
func (r *Response) NextLink() string {
	for _, link := range ParseLinks(r.Header.Get("Link")) {
		if link.Rel == "next" {
			return link.URL
		}
	}
	return ""
}

// Links returns all parsed Link header entries of the response.
func (r *Response) Links() []Link {
	return ParseLinks(r.Header.Get("Link"))
}
