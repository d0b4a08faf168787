package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"resty.dev/v3"
)

// httpRequest performs a single HTTP call.
// Config: url (required), method (default GET), headers (map), body (any;
// maps and slices are sent as JSON). The response body is exposed as a
// string, plus parsed into "json" when the response is JSON.
func httpRequest(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	url, err := requireString(config, "url")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(stringOrDefault(config, "method", "GET"))

	client := resty.New()
	defer client.Close()

	req := client.R().SetContext(ctx)
	if headers, ok := mapOpt(config, "headers"); ok {
		for k, v := range headers {
			req.SetHeader(k, fmt.Sprintf("%v", v))
		}
	}
	if body, ok := config["body"]; ok {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	output := map[string]any{
		"status": resp.StatusCode(),
		"body":   resp.String(),
	}
	if strings.Contains(resp.Header().Get("Content-Type"), "json") {
		var parsed any
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err == nil {
			output["json"] = parsed
		}
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode())
	}
	return output, nil
}
