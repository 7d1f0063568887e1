package http

import (
	"errors"
	"net/http"
	"strconv"
	"ticketbox/common/errs"
	"ticketbox/common/vars"
	"ticketbox/model"
	"ticketbox/outbound/store"

	"github.com/jackc/pgx/v5"
)

type TicketTypeHttp struct {
	Querier *store.Queries
}

func RegisterTicketTypeHttp(mux *http.ServeMux, querier *store.Queries) *TicketTypeHttp {
	in := &TicketTypeHttp{Querier: querier}

	mux.HandleFunc("GET /api/ticket-types", in.list)
	mux.HandleFunc("GET /api/ticket-types/{id}", in.get)

	return in
}

// list serves the availability snapshot maintained by the catalog cron; the
// write path never goes through here.
func (in *TicketTypeHttp) list(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, model.ListTicketTypesResponse{TicketTypes: vars.GetCatalog()})
}

func (in *TicketTypeHttp) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid ticket type id"})
		return
	}

	for _, tt := range vars.GetCatalog() {
		if tt.Id == id {
			writeJSONResponse(w, http.StatusOK, tt)
			return
		}
	}

	// Snapshot misses are possible right after startup; fall back to the
	// store before reporting not found.
	row, err := in.Querier.FindTicketTypeByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusNotFound, Message: "Ticket type not found"})
		return
	}
	if err != nil {
		writeErrorResponse(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, ticketTypeResponse(row, 0))
}

func ticketTypeResponse(row store.TicketType, issued int64) model.TicketTypeResponse {
	resp := model.TicketTypeResponse{
		Id:          row.ID,
		EventId:     row.EventID,
		Name:        row.Name,
		PriceCents:  row.PriceCents,
		Currency:    row.Currency,
		Capacity:    row.Capacity,
		Available:   row.Capacity - int32(issued),
		MinPerOrder: row.MinPerOrder,
		MaxPerOrder: row.MaxPerOrder,
	}

	if resp.Available < 0 {
		resp.Available = 0
	}
	if row.SalesStart.Valid {
		start := row.SalesStart.Time
		resp.SalesStart = &start
	}
	if row.SalesEnd.Valid {
		end := row.SalesEnd.Time
		resp.SalesEnd = &end
	}

	return resp
}
