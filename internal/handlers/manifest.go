package handlers

import (
	"net/http"
	"os"
)

// ManifestHandler serves the tonconnect manifest wallets fetch before showing
// a transaction request.
func ManifestHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "File not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Error reading file", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(json); err != nil {
			log.Error("Failed write manifest: ", err)
		}
	}
}
