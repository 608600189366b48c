package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServer_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "heliogo_mode 1\n")
	})
	srv := httptest.NewServer(NewServer(":0", NewLogBroadcaster(), &fakeSubmitter{}, SiteDefaults{}, metrics).Mux())
	defer srv.Close()

	cases := []struct {
		method, path, body string
		code               int
		contains           string
	}{
		{http.MethodGet, "/", "", http.StatusOK, "HelioGo"},
		{http.MethodGet, "/static/app.js", "", http.StatusOK, "/ws"},
		{http.MethodGet, "/static/style.css", "", http.StatusOK, ".pad"},
		{http.MethodGet, "/config", "", http.StatusOK, `"lat"`},
		{http.MethodGet, "/metrics", "", http.StatusOK, "heliogo_mode"},
		{http.MethodPost, "/command", "get_status", http.StatusOK, "status"},
		{http.MethodPost, "/command", "Y_stop", http.StatusNoContent, ""},
		{http.MethodGet, "/command", "", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nope", "", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tc.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.code)
			}
			if tc.contains != "" && !strings.Contains(string(body), tc.contains) {
				t.Errorf("body does not contain %q", tc.contains)
			}
		})
	}
}

func TestServer_NoMetricsRoute(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", NewLogBroadcaster(), &fakeSubmitter{}, SiteDefaults{}, nil).Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStaticApp_ValidatesSetupOffsets(t *testing.T) {
	data, err := staticFiles.ReadFile("static/app.js")
	if err != nil {
		t.Fatalf("read app.js: %v", err)
	}
	script := string(data)
	// the controller drops setup_complete with a non-integer offset, so the
	// page must not send the raw field values
	if strings.Contains(script, `$("gmt").value + ","`) {
		t.Error("setup form sends the raw gmt field")
	}
	for _, want := range []string{"offsetSeconds", "Number.isInteger"} {
		if !strings.Contains(script, want) {
			t.Errorf("app.js does not contain %q", want)
		}
	}
}
