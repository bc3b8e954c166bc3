package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Imports a single grant by its source id, bypassing the batch cycle.
// Usage:
//
//	ADMIN_SECRET=... go run ./cmd/tools/import_grant -id <subsidy-id>
func main() {
	id := flag.String("id", "", "source id of the grant to import")
	baseURL := flag.String("url", "http://localhost:8081", "server base url")
	flag.Parse()

	if *id == "" {
		fmt.Println("Missing -id flag")
		os.Exit(1)
	}
	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	url := strings.TrimRight(*baseURL, "/") + "/api/v1/import/" + *id
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, body)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
