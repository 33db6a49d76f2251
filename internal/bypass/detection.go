// Package bypass recognises responses where the review site throttled the
// client or interposed a bot-protection challenge instead of the real page.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the part of an HTTP exchange the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector reports whether resp is a challenge or block page and names the
// vendor that produced it.
type Detector func(resp *Response) (detected bool, source string)

// DefaultDetectors returns the vendor detectors in evaluation order.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Verdict is the classification of one response.
type Verdict struct {
	Throttled bool
	Source    string
}

// Classify runs resp through detectors. A 429 is always throttling. Any
// vendor challenge is treated as throttling too, since waiting and retrying
// is the only sensible reaction to either.
func Classify(resp *Response, detectors []Detector) Verdict {
	if resp == nil {
		return Verdict{}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Verdict{Throttled: true, Source: "rate-limit"}
	}
	for _, d := range detectors {
		if ok, src := d(resp); ok {
			return Verdict{Throttled: true, Source: src}
		}
	}
	return Verdict{}
}

// RetryPolicy adapts Classify to the signature used by httpclient.Config.Retry.
func RetryPolicy(detectors []Detector) func(*http.Response, []byte) bool {
	return func(resp *http.Response, body []byte) bool {
		if resp == nil {
			return false
		}
		return Classify(&Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, detectors).Throttled
	}
}

func header(resp *Response, key string) string {
	if resp.Header == nil {
		return ""
	}
	return resp.Header.Get(key)
}

func serverIs(resp *Response, vendor string) bool {
	return strings.Contains(strings.ToLower(header(resp, "Server")), vendor)
}

func bodyHasAny(resp *Response, marks ...string) bool {
	for _, m := range marks {
		if bytes.Contains(resp.Body, []byte(m)) {
			return true
		}
	}
	return false
}

func detectCloudflare(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if serverIs(resp, "cloudflare") ||
		bodyHasAny(resp, "cf-browser-verification", "cf-turnstile", "cloudflare-nginx", "Attention Required! | Cloudflare") {
		return true, "Cloudflare"
	}
	return false, ""
}

// Akamai block pages carry a "Reference #" id next to the denial text.
func detectAkamai(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if serverIs(resp, "akamai") ||
		(bodyHasAny(resp, "Reference #") && bodyHasAny(resp, "Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if serverIs(resp, "datadome") ||
		header(resp, "X-DataDome") != "" || header(resp, "X-DataDome-Response") != "" ||
		bodyHasAny(resp, "geo.captcha-delivery.com", "datadome") {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if header(resp, "X-Px-Captcha") != "" ||
		bodyHasAny(resp, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return true, "PerimeterX"
	}
	return false, ""
}
