package api

import "github.com/starford/perthro/internal/models"

// SaveVersionRequest is the request body for recording a snapshot.
type SaveVersionRequest struct {
	Content string `json:"content" example:"print('hi')"`
	Origin  string `json:"origin" example:"manual"` // "manual" (default) or "autosave"
	Note    string `json:"note,omitempty" example:"before refactor"`
}

// SaveVersionResponse carries the id of the new ledger row.
type SaveVersionResponse struct {
	ID int64 `json:"id" example:"42"`
}

// PublishRequest is the request body for pushing content to the remote
// service.
type PublishRequest struct {
	Content string `json:"content" example:"print('hi')"`
}

// ContentResponse is returned by the load endpoint. Degraded is true when
// the remote fetch failed and the content came from the local ledger;
// Notice then carries the fetch error for display.
type ContentResponse struct {
	Content  string                `json:"content"`
	Degraded bool                  `json:"degraded"`
	Notice   string                `json:"notice,omitempty"`
	Record   *models.VersionRecord `json:"record,omitempty"`
}

// HistoryResponse wraps the version timeline, newest first.
type HistoryResponse struct {
	Versions []models.VersionRecord `json:"versions"`
	Total    int                    `json:"total" example:"7"`
}

// DeletedResponse reports how many rows a bulk delete removed.
type DeletedResponse struct {
	Deleted int64 `json:"deleted" example:"3"`
}
