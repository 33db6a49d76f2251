package bypass

import (
	"net/http"
	"testing"
)

func resp(status int, hdr map[string]string, body string) *Response {
	h := http.Header{}
	for k, v := range hdr {
		h.Set(k, v)
	}
	return &Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func TestDetectors(t *testing.T) {
	tests := []struct {
		name   string
		det    Detector
		resp   *Response
		want   bool
		source string
	}{
		{"cloudflare ok page", detectCloudflare, resp(200, map[string]string{"Server": "cloudflare"}, "OK"), false, ""},
		{"cloudflare header", detectCloudflare, resp(403, map[string]string{"Server": "cloudflare"}, ""), true, "Cloudflare"},
		{"cloudflare turnstile", detectCloudflare, resp(503, nil, "<div class=cf-turnstile>"), true, "Cloudflare"},
		{"akamai header", detectAkamai, resp(403, map[string]string{"Server": "AkamaiGHost"}, ""), true, "Akamai"},
		{"akamai body", detectAkamai, resp(403, nil, "Access Denied. Reference #18.2f"), true, "Akamai"},
		{"akamai partial body", detectAkamai, resp(403, nil, "Reference #18.2f"), false, ""},
		{"datadome header", detectDataDome, resp(403, map[string]string{"X-DataDome": "1"}, ""), true, "DataDome"},
		{"datadome body", detectDataDome, resp(403, nil, "src='https://geo.captcha-delivery.com/c.js'"), true, "DataDome"},
		{"perimeterx header", detectPerimeterX, resp(403, map[string]string{"X-Px-Captcha": "required"}, ""), true, "PerimeterX"},
		{"perimeterx body", detectPerimeterX, resp(403, nil, "window._pxBlock = true;"), true, "PerimeterX"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, src := tc.det(tc.resp)
			if got != tc.want || src != tc.source {
				t.Errorf("got (%v, %q), want (%v, %q)", got, src, tc.want, tc.source)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	detectors := DefaultDetectors()

	if v := Classify(resp(429, nil, ""), detectors); !v.Throttled || v.Source != "rate-limit" {
		t.Errorf("429: got %+v", v)
	}
	if v := Classify(resp(403, map[string]string{"X-DataDome": "1"}, ""), detectors); !v.Throttled || v.Source != "DataDome" {
		t.Errorf("datadome: got %+v", v)
	}
	if v := Classify(resp(200, nil, "<h1>EZ Smokez</h1>"), detectors); v.Throttled {
		t.Errorf("plain page classified as %+v", v)
	}
	if v := Classify(resp(404, nil, "not found"), detectors); v.Throttled {
		t.Errorf("404 classified as %+v", v)
	}
	if v := Classify(nil, detectors); v.Throttled {
		t.Error("nil response classified as throttled")
	}
}

func TestRetryPolicy(t *testing.T) {
	retry := RetryPolicy(DefaultDetectors())

	if !retry(&http.Response{StatusCode: 429}, nil) {
		t.Error("expected 429 to be retried")
	}
	if !retry(&http.Response{StatusCode: 503, Header: http.Header{}}, []byte("cf-browser-verification")) {
		t.Error("expected cloudflare challenge to be retried")
	}
	if retry(&http.Response{StatusCode: 500}, nil) {
		t.Error("plain 500 should not be retried")
	}
	if retry(nil, nil) {
		t.Error("nil response should not be retried")
	}
}
