package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/middleware"
	"github.com/agjmills/swapshelf/internal/service"
)

// maxTradeBody caps JSON bodies on the trade endpoints.
const maxTradeBody = 4096

type TradeHandler struct {
	*Renderer
	trades *service.TradeService
}

func NewTradeHandler(rd *Renderer, trades *service.TradeService) *TradeHandler {
	return &TradeHandler{Renderer: rd, trades: trades}
}

// tradeForm is what the trade endpoints accept, as form fields or JSON.
type tradeForm struct {
	ID       uint   `json:"id"`
	File     uint   `json:"file"`
	Decision string `json:"decision"`
}

type tradeEnvelope struct {
	TradeRequest *models.TradeRequest `json:"tradeRequest"`
}

func readTradeForm(w http.ResponseWriter, r *http.Request) (tradeForm, error) {
	var form tradeForm
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTradeBody)).Decode(&form); err != nil {
			return form, &service.Error{Kind: service.ErrValidation, Message: "Invalid request body"}
		}
		return form, nil
	}
	form.ID = parseID(r.FormValue("id"))
	form.File = parseID(r.FormValue("file"))
	form.Decision = strings.TrimSpace(r.FormValue("decision"))
	return form, nil
}

// List shows the user's outgoing requests and the ones waiting on them.
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	outgoing, incoming, err := h.trades.ListForUser(r.Context(), user.Username)
	if err != nil {
		middleware.ServerError(w, r, err)
		return
	}
	h.render(w, r, "trades.html", "Trades", map[string]any{
		"Outgoing": outgoing,
		"Incoming": incoming,
	})
}

// Request sends a trade request for a file. It always answers with JSON.
func (h *TradeHandler) Request(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	form, err := readTradeForm(w, r)
	if err != nil {
		writeJSONError(w, r, err)
		return
	}

	trade, err := h.trades.Send(r.Context(), form.File, user.Username)
	if err != nil {
		writeJSONError(w, r, err)
		return
	}
	logger.Info("trade requested", "trade_id", trade.ID, "file_id", trade.FileID, "from", trade.From, "to", trade.To)
	writeJSON(w, http.StatusOK, tradeEnvelope{TradeRequest: trade})
}

// Cancel withdraws one of the user's pending requests.
func (h *TradeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	form, err := readTradeForm(w, r)
	if err != nil {
		h.respond(w, r, nil, err, "")
		return
	}
	trade, err := h.trades.Cancel(r.Context(), form.ID, user.Username)
	h.respond(w, r, trade, err, "Trade was cancelled")
}

// Decide accepts or rejects a request sent to the user.
func (h *TradeHandler) Decide(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	form, err := readTradeForm(w, r)
	if err != nil {
		h.respond(w, r, nil, err, "")
		return
	}
	decision := models.TradeStatus(form.Decision)
	trade, err := h.trades.Decide(r.Context(), form.ID, user.Username, decision)
	h.respond(w, r, trade, err, "Trade was "+strings.ToLower(form.Decision))
}

// respond answers a state change with JSON for scripted clients, or with a
// flash message and a redirect back for plain form posts.
func (h *TradeHandler) respond(w http.ResponseWriter, r *http.Request, trade *models.TradeRequest, err error, success string) {
	if wantsJSON(r) {
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tradeEnvelope{TradeRequest: trade})
		return
	}

	if err != nil {
		h.fail(w, r, err, "/trades")
		return
	}
	logger.Info("trade updated", "trade_id", trade.ID, "status", trade.Status)
	h.flash.Success(r.Context(), success)
	redirectBack(w, r, "/trades")
}
