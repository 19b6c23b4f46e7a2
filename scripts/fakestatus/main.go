// Fakestatus is a stand-in status endpoint for running the watcher locally.
// It answers /cldr-apps/SurveyAjax?what=status with a status document and
// can be told to go busted, fail, or slow down.
//
// Usage:
//
//	go run ./scripts/fakestatus -port 9090
//	go run ./scripts/fakestatus -port 9091 -fail-after 3
//	go run ./scripts/fakestatus -port 9092 -busted "database locked"
//
// Point a server's status_url at http://localhost:<port>/cldr-apps/SurveyAjax?what=status.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type status struct {
	IsSetup     bool    `json:"isSetup"`
	IsBusted    any     `json:"isBusted"`
	Users       int     `json:"users"`
	Guests      int     `json:"guests"`
	SysLoad     float64 `json:"sysload"`
	SysProcs    int     `json:"sysprocs"`
	MemFree     float64 `json:"memfree"`
	MemTotal    float64 `json:"memtotal"`
	DBUsed      int     `json:"dbused"`
	Uptime      string  `json:"uptime"`
	Phase       string  `json:"phase"`
	NewVersion  string  `json:"newVersion"`
	Environment string  `json:"environment"`
}

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	busted := flag.String("busted", "", "report busted with this reason")
	failAfter := flag.Int64("fail-after", 0, "answer 503 after this many requests (0 = never)")
	delay := flag.Duration("delay", 0, "wait this long before answering")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	instance := uuid.NewString()
	started := time.Now()
	var served atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/cldr-apps/SurveyAjax", func(w http.ResponseWriter, r *http.Request) {
		n := served.Add(1)
		log.Info("Status request",
			slog.Int64("n", n),
			slog.String("from", r.RemoteAddr),
			slog.String("what", r.URL.Query().Get("what")))

		if *delay > 0 {
			time.Sleep(*delay)
		}
		if *failAfter > 0 && n > *failAfter {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}

		st := status{
			IsSetup:     true,
			IsBusted:    false,
			Users:       3,
			Guests:      12,
			SysLoad:     0.42,
			SysProcs:    8,
			MemFree:     512.5,
			MemTotal:    2048,
			DBUsed:      17,
			Uptime:      time.Since(started).Round(time.Second).String(),
			Phase:       "SUBMISSION",
			NewVersion:  "46",
			Environment: "LOCAL",
		}
		if *busted != "" {
			st.IsBusted = *busted
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"isSetup":  "1",
			"isBusted": "0",
			"instance": instance,
			"status":   st,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Starting fake status server", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
