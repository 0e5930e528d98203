// Package httpapi implements the draft query HTTP surface: a single POST
// endpoint that resolves two hero sets to matching historical games via the
// query planner.
package httpapi

import (
	"net/http"

	"dota2index/internal/core/mask"
	"dota2index/internal/core/planner"
	"dota2index/internal/platform/logger"
	httpx "dota2index/internal/platform/net/http"
	"dota2index/internal/platform/net/http/bind"
)

const (
	defaultCount = 10
	maxCount     = 100
)

// Request is the query payload: team1/team2 are hero id lists, each
// possibly empty and at most 5 long.
type Request struct {
	Team1  []uint8 `json:"team1" validate:"max=5,dive,max=255"`
	Team2  []uint8 `json:"team2" validate:"max=5,dive,max=255"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
}

// MatchResponse is one row of the response array
type MatchResponse struct {
	MatchID uint64   `json:"match_id"`
	Radiant [5]uint8 `json:"radiant"`
	Dire    [5]uint8 `json:"dire"`
}

// Handler serves the draft query endpoint over a planner.Planner
type Handler struct {
	planner *planner.Planner
	log     *logger.Logger
}

// New builds a Handler over p
func New(p *planner.Planner) *Handler {
	return &Handler{planner: p, log: logger.Named("httpapi")}
}

// Register mounts the handler's routes onto r
func (h *Handler) Register(r httpx.Router) {
	r.Post("/", h.query)
}

// query resolves a draft request. Per the service's best-effort contract,
// any failure (malformed body, validation, planner/storage error) degrades
// to a 200 with an empty array rather than leaking error detail to an
// untrusted caller.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	req, err := bind.ParseJSON[Request](r, bind.JSONOptions{MaxBytes: 1 << 16, DisallowUnknown: true, AllowEmptyBody: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("draft query: bad request, responding empty")
		httpx.JSON(w, http.StatusOK, []MatchResponse{})
		return
	}

	count := req.Count
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	drafts, err := h.planner.Query(r.Context(), req.Team1, req.Team2, count, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("draft query: planner failed, responding empty")
		httpx.JSON(w, http.StatusOK, []MatchResponse{})
		return
	}

	out := make([]MatchResponse, len(drafts))
	for i, d := range drafts {
		out[i] = toResponse(d)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func toResponse(d mask.MatchDraft) MatchResponse {
	var resp MatchResponse
	resp.MatchID = d.MatchID
	copy(resp.Radiant[:], d.Radiant)
	copy(resp.Dire[:], d.Dire)
	return resp
}
