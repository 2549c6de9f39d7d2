package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/agjmills/swapshelf/internal/database/models"
)

type tradeResponse struct {
	TradeRequest *models.TradeRequest `json:"tradeRequest"`
	Error        string               `json:"error"`
}

func decodeTrade(t *testing.T, resp *http.Response) tradeResponse {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var out tradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

var jsonHeaders = http.Header{"Accept": {"application/json"}}

func TestTradeRequest(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice")
	app.createUser(t, "bob")
	file := app.createFile(t, "bob", "song.mp3", "la la")
	own := app.createFile(t, "alice", "mine.txt", "x")
	alice := app.loggedIn(t, "alice")

	resp := alice.postForm("/trades/request", url.Values{"file": {fmt.Sprint(file.ID)}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeTrade(t, resp).TradeRequest
	if got == nil {
		t.Fatal("response has no tradeRequest")
	}
	if got.From != "alice" || got.To != "bob" || got.Status != models.TradePending || got.FileID != file.ID {
		t.Errorf("trade = %+v", got)
	}

	tests := []struct {
		name   string
		body   string
		ctype  string
		status int
		err    string
	}{
		{
			name:   "duplicate",
			body:   url.Values{"file": {fmt.Sprint(file.ID)}}.Encode(),
			ctype:  "application/x-www-form-urlencoded",
			status: http.StatusConflict,
			err:    "You already sent this trade request",
		},
		{
			name:   "own file",
			body:   fmt.Sprintf(`{"file": %d}`, own.ID),
			ctype:  "application/json",
			status: http.StatusBadRequest,
			err:    "Cannot send trade request to myself",
		},
		{
			name:   "unknown file",
			body:   url.Values{"file": {"9999"}}.Encode(),
			ctype:  "application/x-www-form-urlencoded",
			status: http.StatusNotFound,
			err:    "File not found",
		},
		{
			name:   "garbage json",
			body:   `{"file": "x"`,
			ctype:  "application/json",
			status: http.StatusBadRequest,
			err:    "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := alice.post("/trades/request", tt.ctype, strings.NewReader(tt.body), nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if out := decodeTrade(t, resp); out.Error != tt.err {
				t.Errorf("error = %q, want %q", out.Error, tt.err)
			}
		})
	}
}

func TestTradeRequest_RequiresLogin(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "bob")
	file := app.createFile(t, "bob", "song.mp3", "la la")

	resp := app.newClient(t).postForm("/trades/request", url.Values{"file": {fmt.Sprint(file.ID)}})
	expectRedirect(t, resp, "/users/login")

	var count int64
	app.db.Model(&models.TradeRequest{}).Count(&count)
	if count != 0 {
		t.Errorf("anonymous request created %d trades", count)
	}
}

func TestTradeDecide(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice")
	app.createUser(t, "bob")
	file := app.createFile(t, "bob", "song.mp3", "la la")
	trade, err := app.trades.Send(context.Background(), file.ID, "alice")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	id := fmt.Sprint(trade.ID)
	alice := app.loggedIn(t, "alice")
	bob := app.loggedIn(t, "bob")

	expectContains(t, bob.page("/trades"), "Waiting for you", "song.mp3", `name="decision" value="Accepted"`)

	// Only the file's owner decides.
	resp := alice.post("/trades/decide", "application/x-www-form-urlencoded",
		strings.NewReader(url.Values{"id": {id}, "decision": {"Accepted"}}.Encode()), jsonHeaders)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("decide by requester = %d, want 403", resp.StatusCode)
	}
	if out := decodeTrade(t, resp); out.Error != "This user cannot decide this trade" {
		t.Errorf("error = %q", out.Error)
	}

	resp = bob.postForm("/trades/decide", url.Values{"id": {id}, "decision": {"Maybe"}})
	expectRedirect(t, resp, "/trades")
	expectContains(t, bob.page("/trades"), "Invalid decision")

	resp = bob.postForm("/trades/decide", url.Values{"id": {id}, "decision": {"Accepted"}})
	expectRedirect(t, resp, "/trades")
	expectContains(t, bob.page("/trades"), "Trade was accepted", "No pending requests.")
	if got := app.tradeStatus(t, trade.ID); got != models.TradeAccepted {
		t.Errorf("status = %s, want Accepted", got)
	}

	resp = bob.post("/trades/decide", "application/json",
		strings.NewReader(fmt.Sprintf(`{"id": %d, "decision": "Rejected"}`, trade.ID)), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("deciding twice = %d, want 409", resp.StatusCode)
	}

	// The accepted request stays on the requester's list with a download link.
	expectContains(t, alice.page("/trades"), "badge-accepted", "/download/"+file.StorageName)
}

func TestTradeDecide_JSONSuccess(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice")
	app.createUser(t, "bob")
	file := app.createFile(t, "bob", "song.mp3", "la la")
	trade, err := app.trades.Send(context.Background(), file.ID, "alice")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	bob := app.loggedIn(t, "bob")

	resp := bob.post("/trades/decide", "application/x-www-form-urlencoded",
		strings.NewReader(url.Values{"id": {fmt.Sprint(trade.ID)}, "decision": {"Rejected"}}.Encode()),
		http.Header{"X-Requested-With": {"XMLHttpRequest"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out := decodeTrade(t, resp); out.TradeRequest == nil || out.TradeRequest.Status != models.TradeRejected {
		t.Errorf("response = %+v", out)
	}
}

func TestTradeCancel(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice")
	app.createUser(t, "bob")
	file := app.createFile(t, "bob", "song.mp3", "la la")
	trade, err := app.trades.Send(context.Background(), file.ID, "alice")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	id := url.Values{"id": {fmt.Sprint(trade.ID)}}
	alice := app.loggedIn(t, "alice")
	bob := app.loggedIn(t, "bob")

	expectContains(t, alice.page("/trades"), "Sent by you", "badge-pending", `action="/trades/cancel"`)

	resp := bob.postForm("/trades/cancel", id)
	expectRedirect(t, resp, "/trades")
	expectContains(t, bob.page("/trades"), "This user cannot cancel this trade")

	resp = alice.postForm("/trades/cancel", id)
	expectRedirect(t, resp, "/trades")
	body := alice.page("/trades")
	expectContains(t, body, "Trade was cancelled", "You have not asked for any files.")
	if got := app.tradeStatus(t, trade.ID); got != models.TradeCanceled {
		t.Errorf("status = %s, want Canceled", got)
	}

	resp = alice.postForm("/trades/cancel", id)
	expectRedirect(t, resp, "/trades")
	expectContains(t, alice.page("/trades"), "only possible to cancel pending requests")

	resp = alice.postForm("/trades/cancel", url.Values{"id": {"abc"}})
	expectRedirect(t, resp, "/trades")
	expectContains(t, alice.page("/trades"), "Trade not found")
}
