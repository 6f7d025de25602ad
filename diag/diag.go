// Package diag serves a read-only JSON view of a flow store for operators.
package diag

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/corda/corda-runtime-os-sub030/backend"
)

// NewServeMux returns an *http.ServeMux serving the diagnostics API below /api/:
//
//	/api/stats                 checkpoint, outbox and dead letter counts
//	/api/checkpoints/{flowID}  the checkpoint of one flow
//	/api/outbox?count=n        the oldest pending outbox entries
//	/api/deadletters           all dead lettered events
func NewServeMux(store backend.Store) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		// Only support GET requests
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/"), "/")

		switch {
		case len(segments) == 1 && segments[0] == "stats":
			stats, err := store.GetStats(r.Context())
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, stats)

		case len(segments) == 2 && segments[0] == "checkpoints" && segments[1] != "":
			cp, err := store.GetCheckpoint(r.Context(), segments[1])
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			if cp == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}

			writeJSON(w, cp)

		case len(segments) == 1 && segments[0] == "outbox":
			count := 25
			if countStr := r.URL.Query().Get("count"); countStr != "" {
				var err error
				count, err = strconv.Atoi(countStr)
				if err != nil || count <= 0 {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
			}

			entries, err := store.GetOutbox(r.Context(), count)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, entries)

		case len(segments) == 1 && segments[0] == "deadletters":
			dls, err := store.GetDeadLetters(r.Context())
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, dls)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}
