package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// stateCmd prints the loop state served to loopback callers, or the grid's
// Prometheus series with -metrics.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	metrics := fs.Bool("metrics", false, "print chargegrid_* series from /metrics instead")
	_ = fs.Parse(args)

	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/")
	cl := &http.Client{Timeout: 5 * time.Second}
	if *metrics {
		body, err := fetch(cl, base+"/metrics")
		if err != nil {
			fatalf(1, "%v", err)
		}
		for _, line := range gridSeries(body) {
			fmt.Println(line)
		}
		return
	}

	body, err := fetch(cl, base+"/admin/v1/state")
	if err != nil {
		fatalf(1, "%v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		fatalf(1, "decode state: %v", err)
	}
	printJSON(v)
}

func fetch(cl *http.Client, url string) ([]byte, error) {
	resp, err := cl.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// gridSeries keeps the sample lines of chargegrid_* metrics.
func gridSeries(exposition []byte) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(string(exposition)))
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "chargegrid_") {
			out = append(out, line)
		}
	}
	return out
}
