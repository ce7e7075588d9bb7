package main

import (
	"fmt"
	"strings"

	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/cycle"
	"github.com/shopfloor/isos/pkg/history"
)

type assetListResponse struct {
	Items []asset.Asset `json:"items"`
	Size  int           `json:"size"`
}

type assetResponse struct {
	ID    uint         `json:"id"`
	Asset *asset.Asset `json:"asset"`
}

type updateResponse struct {
	Changes int          `json:"changes"`
	Asset   *asset.Asset `json:"asset"`
}

type historyResponse struct {
	Items         []history.Entry `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
	Size          int             `json:"size"`
}

type scanResponse struct {
	Status string       `json:"status"`
	Cycle  *cycle.Cycle `json:"cycle"`
	Asset  *asset.Asset `json:"asset"`
}

type activeCycleResponse struct {
	Asset *asset.Asset `json:"asset"`
	Cycle *cycle.Cycle `json:"activeCycle"`
}

type cycleListResponse struct {
	Items         []cycle.View `json:"items"`
	NextPageToken string       `json:"nextPageToken"`
	Size          int          `json:"size"`
}

type assetTypeInfo struct {
	asset.Descriptor
	BlockingStatuses []string `json:"blockingStatuses"`
}

type assetTypesResponse struct {
	AssetTypes []assetTypeInfo `json:"assetTypes"`
}

// parseAssignments parses repeated key=value flags.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}
