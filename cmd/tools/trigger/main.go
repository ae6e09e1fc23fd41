package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type jobStatus struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Duration string          `json:"duration"`
	Error    string          `json:"error"`
	Result   json.RawMessage `json:"result"`
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	adminSecretFlag := flag.String("admin-secret", "", "Admin secret (or use ADMIN_SECRET env)")
	source := flag.String("source", "", "Only run this source id")
	wait := flag.Bool("wait", true, "Poll until the job finishes")
	pollEvery := flag.Duration("poll", 5*time.Second, "Poll interval")
	flag.Parse()

	adminSecret := strings.TrimSpace(*adminSecretFlag)
	if adminSecret == "" {
		adminSecret = strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	}
	if adminSecret == "" {
		exitErr(errors.New("missing admin secret: use -admin-secret or ADMIN_SECRET env"))
	}

	base := strings.TrimRight(*baseURL, "/")
	u, _ := url.Parse(base + "/api/v1/admin/discovery")
	if *source != "" {
		q := u.Query()
		q.Set("source", *source)
		u.RawQuery = q.Encode()
	}

	client := &http.Client{Timeout: 30 * time.Second}
	var started struct {
		JobID string `json:"job_id"`
		Error string `json:"error"`
	}
	code, err := call(client, http.MethodPost, u.String(), adminSecret, &started)
	if err != nil {
		exitErr(err)
	}
	if code != http.StatusAccepted {
		exitErr(fmt.Errorf("http %d: %s (job %s)", code, started.Error, started.JobID))
	}
	fmt.Printf("Discovery job %s started\n", started.JobID)
	if !*wait {
		return
	}

	statusURL := fmt.Sprintf("%s/api/v1/admin/job/%s", base, started.JobID)
	for {
		time.Sleep(*pollEvery)
		var st jobStatus
		code, err := call(client, http.MethodGet, statusURL, adminSecret, &st)
		if err != nil {
			exitErr(err)
		}
		if code != http.StatusOK {
			exitErr(fmt.Errorf("job status: http %d", code))
		}
		if st.Status == "running" {
			fmt.Print(".")
			continue
		}

		fmt.Printf("\nJob %s %s in %s\n", st.ID, st.Status, st.Duration)
		if len(st.Result) > 0 {
			var pretty map[string]any
			if json.Unmarshal(st.Result, &pretty) == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
			}
		}
		if st.Status != "completed" {
			exitErr(errors.New(st.Error))
		}
		return
	}
}

func call(client *http.Client, method, reqURL, adminSecret string, out any) (int, error) {
	req, err := http.NewRequest(method, reqURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode failed: %w", err)
	}
	return resp.StatusCode, nil
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
