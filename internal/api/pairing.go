package api

import (
	"errors"
	"net/http"

	"git.sr.ht/~jakintosh/whatshare/internal/service"
	"github.com/gorilla/mux"
)

type PairingRequest = service.Message

func (a *API) Pairing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := PairingRequest{}
		if ok := decodeRequest(a, &req, w, r); !ok {
			return
		}

		err := a.service.HandleReply(r.Context(), req)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, service.ErrInvalidMessage):
			a.logApiErr(r, "invalid pairing message", err)
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, service.ErrUnauthorized):
			a.logApiErr(r, "pairing reply not relayed", err)
			w.WriteHeader(http.StatusUnauthorized)
		default:
			a.logApiErr(r, "pairing reply failed", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// PairingStatus answers "1" when the extension can currently be reached.
func (a *API) PairingStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityKey := mux.Vars(r)["identityKey"]
		if a.service.CheckUsable(r.Context(), identityKey) {
			returnText("1", w)
			return
		}
		returnText("0", w)
	}
}
