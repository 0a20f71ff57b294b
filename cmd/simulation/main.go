package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
)

// Drives a running server through a confusion episode:
// context, rising signals, evaluate, then poll the job until it settles.
//
//	SIM_TOKEN=<jwt> go run ./cmd/simulation

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type decision struct {
	Fire   bool   `json:"fire"`
	Class  string `json:"class"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Job    *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"job"`
}

type job struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultRef string `json:"result_ref"`
	Error     string `json:"error"`
}

var (
	baseURL = getEnv("SIM_BASE_URL", "http://localhost:3000/api/intervention/v1")
	token   = os.Getenv("SIM_TOKEN")
	client  = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	if token == "" {
		log.Fatal("SIM_TOKEN is not set")
	}
	color.Cyan("=== Intervention Simulation Client ===")

	must(call(http.MethodPost, "/context", map[string]interface{}{
		"topic": "Cellular respiration",
		"text":  "Mitochondria produce ATP through the electron transport chain.",
	}, nil))

	for _, level := range []float64{0.4, 0.7, 0.9} {
		var state struct {
			SmoothedLevel float64 `json:"smoothed_level"`
		}
		must(call(http.MethodPost, "/signals", map[string]interface{}{"kind": "confusion", "level": level}, &state))
		fmt.Printf("signal confusion=%.2f -> smoothed %.3f\n", level, state.SmoothedLevel)
	}

	var res struct {
		Decisions []decision `json:"decisions"`
		Fired     int        `json:"fired"`
	}
	must(call(http.MethodPost, "/evaluate", nil, &res))

	var jobID string
	for _, d := range res.Decisions {
		if d.Fire {
			color.Green("[%s] fire %s: %s", d.Class, d.Kind, d.Reason)
		} else {
			color.White("[%s] no action: %s", d.Class, d.Reason)
		}
		if d.Fire && d.Job != nil {
			jobID = d.Job.ID
		}
	}
	if jobID == "" {
		color.Yellow("Nothing fired.")
		return
	}

	deadline := time.Now().Add(5 * time.Minute)
	for time.Now().Before(deadline) {
		var j job
		must(call(http.MethodGet, "/jobs/"+jobID, nil, &j))
		switch j.Status {
		case "ready":
			color.Green("job %s ready: %s", j.ID, j.ResultRef)
			return
		case "failed":
			color.Red("job %s failed: %s", j.ID, j.Error)
			return
		}
		time.Sleep(3 * time.Second)
	}
	log.Fatalf("job %s still pending after 5m", jobID)
}

func call(method, path string, body interface{}, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
