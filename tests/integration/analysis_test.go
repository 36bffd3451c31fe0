//go:build integration

// Package integration provides end-to-end tests against a running
// ringwatch server.
//
// The server must be started separately:
//
//	go run ./cmd/ringwatch
//
// Run with: go test -tags=integration -v ./tests/integration/...
// RINGWATCH_TEST_URL overrides the default http://localhost:8000.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if u := os.Getenv("RINGWATCH_TEST_URL"); u != "" {
		return u
	}
	return "http://localhost:8000"
}

var client = &http.Client{Timeout: 30 * time.Second}

// FileResult mirrors one entry of the POST /input/files response.
type FileResult struct {
	Report struct {
		SuspiciousAccounts []struct {
			AccountID        string   `json:"account_id"`
			SuspicionScore   float64  `json:"suspicion_score"`
			DetectedPatterns []string `json:"detected_patterns"`
			RingID           *string  `json:"ring_id"`
		} `json:"suspicious_accounts"`
		FraudRings []struct {
			RingID         string   `json:"ring_id"`
			PatternType    string   `json:"pattern_type"`
			MemberAccounts []string `json:"member_accounts"`
			RiskScore      float64  `json:"risk_score"`
		} `json:"fraud_rings"`
		Summary struct {
			TotalAccountsAnalyzed int `json:"total_accounts_analyzed"`
			FraudRingsDetected    int `json:"fraud_rings_detected"`
		} `json:"summary"`
	} `json:"report"`
	Summary []map[string]any `json:"summary"`
	SavedTo string           `json:"saved_to"`
}

// ringCSV builds a 3-cycle among the prefixed accounts plus quiet traffic.
func ringCSV(prefix string) []byte {
	var b strings.Builder
	b.WriteString("transaction_id,sender_id,receiver_id,amount,timestamp\n")
	fmt.Fprintf(&b, "%[1]s-T1,%[1]s-A,%[1]s-B,1000,2024-01-01 10:00:00\n", prefix)
	fmt.Fprintf(&b, "%[1]s-T2,%[1]s-B,%[1]s-C,990,2024-01-01 11:00:00\n", prefix)
	fmt.Fprintf(&b, "%[1]s-T3,%[1]s-C,%[1]s-A,980,2024-01-01 12:00:00\n", prefix)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%[1]s-N%02[2]d,%[1]s-X%02[2]d,%[1]s-Y%02[2]d,50,2024-01-02 09:00:00\n", prefix, i)
	}
	return []byte(b.String())
}

func upload(t *testing.T, path string, files map[string][]byte) (int, []byte) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest("POST", baseURL()+path, &body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return do(t, req)
}

func get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest("GET", baseURL()+path, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed (is ringwatch running at %s?): %v", baseURL(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	status, body := get(t, "/health")
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, body)
	}

	var health map[string]any
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", health["status"])
	}
}

func TestUploadDetectsCycle(t *testing.T) {
	prefix := fmt.Sprintf("it%d", time.Now().UnixNano())
	fileName := prefix + ".csv"

	status, body := upload(t, "/input/files", map[string][]byte{fileName: ringCSV(prefix)})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, body)
	}

	var results map[string]FileResult
	if err := json.Unmarshal(body, &results); err != nil {
		t.Fatalf("Failed to decode response: %v (body: %s)", err, body)
	}
	res, ok := results[fileName]
	if !ok {
		t.Fatalf("Response has no entry for %s: %s", fileName, body)
	}

	if res.Report.Summary.TotalAccountsAnalyzed != 23 {
		t.Errorf("Expected 23 accounts, got %d", res.Report.Summary.TotalAccountsAnalyzed)
	}
	if len(res.Report.FraudRings) != 1 {
		t.Fatalf("Expected 1 ring, got %d", len(res.Report.FraudRings))
	}
	if got := res.Report.FraudRings[0].PatternType; got != "cycle_length_3" {
		t.Errorf("Expected cycle_length_3, got %s", got)
	}
	if len(res.Summary) != 1 {
		t.Errorf("Expected 1 summary row, got %d", len(res.Summary))
	}

	want := "/download/" + prefix + "_analysis.json"
	if res.SavedTo != want {
		t.Fatalf("Expected saved_to %s, got %s", want, res.SavedTo)
	}

	status, body = get(t, res.SavedTo)
	if status != http.StatusOK {
		t.Fatalf("Download failed with %d: %s", status, body)
	}
	var report map[string]any
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("Downloaded report is not JSON: %v", err)
	}
	if _, ok := report["fraud_rings"]; !ok {
		t.Errorf("Downloaded report has no fraud_rings")
	}

	status, body = get(t, "/show/output/files")
	if status != http.StatusOK {
		t.Fatalf("List failed with %d: %s", status, body)
	}
	if !strings.Contains(string(body), prefix+"_analysis.json") {
		t.Errorf("Listing does not include %s_analysis.json: %s", prefix, body)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	status, body := upload(t, "/input/files", map[string][]byte{"notes.txt": []byte("hello")})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-csv, got %d: %s", status, body)
	}

	bad := []byte("transaction_id,sender_id,amount,timestamp\nT1,A,10,2024-01-01 10:00:00\n")
	status, body = upload(t, "/input/files", map[string][]byte{"broken.csv": bad})
	if status != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing column, got %d: %s", status, body)
	}
	if !strings.Contains(string(body), "Missing column") {
		t.Errorf("Expected missing column detail, got %s", body)
	}
}

func TestDownloadUnknownReport(t *testing.T) {
	status, _ := get(t, "/download/does_not_exist_analysis.json")
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
}

func TestAsyncUpload(t *testing.T) {
	prefix := fmt.Sprintf("async%d", time.Now().UnixNano())
	fileName := prefix + ".csv"

	status, body := upload(t, "/input/files/async", map[string][]byte{fileName: ringCSV(prefix)})
	if status != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", status, body)
	}

	// The worker saves the report once the job has run.
	path := "/download/" + prefix + "_analysis.json"
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if status, _ := get(t, path); status == http.StatusOK {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("Report %s never appeared", path)
}
