package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/realtime"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/scrapejobs"
)

type api struct {
	jobs    *scrapejobs.Service
	broker  *challenges.Broker
	gateway *realtime.Gateway
}

func (a api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", a.submitJob)
	mux.HandleFunc("GET /jobs/{id}", a.getJob)
	mux.HandleFunc("GET /challenges/{id}", a.getChallenge)
	mux.HandleFunc("POST /challenges/{id}", a.resolveChallenge)
	mux.HandleFunc("GET /ws", a.gateway.Handle)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (a api) submitJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountId string `json:"account_id"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil || body.AccountId == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "expected a JSON body with account_id"})
		return
	}

	job, err := a.jobs.Submit(r.Context(), body.AccountId)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a api) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.jobs.Job(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such job"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a api) getChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, ok := a.broker.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such challenge"})
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func (a api) resolveChallenge(w http.ResponseWriter, r *http.Request) {
	var payload challenges.Payload
	err := json.NewDecoder(r.Body).Decode(&payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "expected a JSON challenge payload"})
		return
	}

	err = a.broker.Resolve(r.Context(), r.PathValue("id"), payload)
	if errors.Is(err, challenges.ErrConflict) {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
