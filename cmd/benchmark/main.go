// Benchmark replays a labeled transaction CSV against a running
// PesaGuard instance and reports detection accuracy.
//
// CSV columns: trans_id,short_code,msisdn,amount,trans_time,label
// where trans_time uses the gateway format (YYYYMMDDHHMMSS) and label
// is 1 for fraudulent, 0 for legitimate.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type flaggedEntry struct {
	Transaction struct {
		TransactionID string `json:"transactionId"`
	} `json:"transaction"`
	Assessment struct {
		Score     float64 `json:"score"`
		RiskLevel string  `json:"riskLevel"`
	} `json:"assessment"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "PesaGuard base URL")
	file := flag.String("file", "", "labeled transaction CSV")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: benchmark -file transactions.csv [-url http://host:port]")
		os.Exit(1)
	}

	rows, labels, err := readLabeled(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *file, err)
		os.Exit(1)
	}

	fmt.Printf("replaying %d transactions against %s\n", len(rows), *baseURL)

	client := &http.Client{Timeout: 30 * time.Second}
	start := time.Now()

	for i, row := range rows {
		if err := post(client, *baseURL+"/api/v1/mpesa/callback", row); err != nil {
			fmt.Fprintf(os.Stderr, "row %d: %v\n", i+1, err)
			os.Exit(1)
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("replayed in %s (%.0f tx/s)\n\n", elapsed.Round(time.Millisecond),
		float64(len(rows))/elapsed.Seconds())

	flagged, err := fetchFlagged(client, *baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch flagged feed: %v\n", err)
		os.Exit(1)
	}

	report(labels, flagged)
}

func readLabeled(path string) ([]map[string]any, map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	var rows []map[string]any
	labels := make(map[string]bool)

	for line := 0; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if line == 0 && record[0] == "trans_id" {
			continue
		}
		if len(record) != 6 {
			return nil, nil, fmt.Errorf("line %d: expected 6 columns, got %d", line+1, len(record))
		}

		rows = append(rows, map[string]any{
			"TransactionType":   "Pay Bill",
			"TransID":           record[0],
			"BusinessShortCode": record[1],
			"MSISDN":            record[2],
			"TransAmount":       record[3],
			"TransTime":         record[4],
		})
		labels[record[0]] = record[5] == "1"
	}

	return rows, labels, nil
}

func post(client *http.Client, url string, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, payload)
	}
	return nil
}

func fetchFlagged(client *http.Client, baseURL string) (map[string]bool, error) {
	flagged := make(map[string]bool)

	for _, reviewed := range []string{"false", "true"} {
		resp, err := client.Get(baseURL + "/api/v1/fraud/flagged?reviewed=" + reviewed)
		if err != nil {
			return nil, err
		}

		var body struct {
			Flagged []flaggedEntry `json:"flagged"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		for _, entry := range body.Flagged {
			flagged[entry.Transaction.TransactionID] = true
		}
	}

	return flagged, nil
}

func report(labels map[string]bool, flagged map[string]bool) {
	var tp, fp, tn, fn int
	for transID, isFraud := range labels {
		switch {
		case isFraud && flagged[transID]:
			tp++
		case isFraud && !flagged[transID]:
			fn++
		case !isFraud && flagged[transID]:
			fp++
		default:
			tn++
		}
	}

	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Println("detection accuracy")
	fmt.Printf("  true positives   %d\n", tp)
	fmt.Printf("  false positives  %d\n", fp)
	fmt.Printf("  true negatives   %d\n", tn)
	fmt.Printf("  false negatives  %d\n", fn)
	fmt.Printf("  precision        %.3f\n", precision)
	fmt.Printf("  recall           %.3f\n", recall)
	fmt.Printf("  f1               %.3f\n", f1)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
