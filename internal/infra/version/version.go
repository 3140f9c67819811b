package version

import (
	"encoding/json"
	"net/http"
)

const Service = "cross-exchange-liquidity-engine"

// Overridable at build time via -ldflags "-X .../version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Handler writes version info as JSON
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info{Service: Service, Version: Version, Commit: Commit, BuildTime: BuildTime})
}
