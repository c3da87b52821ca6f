package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"drones/pkg/drone"
)

const maxBodyBytes = 1 << 20

func (env *environment) GetConfig(w http.ResponseWriter, r *http.Request) {
	droneID := drone.ParseID(mux.Vars(r)["id"])

	config, err := env.Resolver.ResolveConfig(r.Context(), droneID)
	switch {
	case errors.Is(err, drone.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Drone config not found")
	case err != nil:
		log.Println("could not resolve drone config:", err)
		writeJSONError(w, http.StatusInternalServerError, "Error fetching drone config")
	default:
		writeJSON(w, http.StatusOK, config)
	}
}

func (env *environment) GetStatus(w http.ResponseWriter, r *http.Request) {
	droneID := drone.ParseID(mux.Vars(r)["id"])

	status, err := env.Resolver.ResolveStatus(r.Context(), droneID)
	switch {
	case errors.Is(err, drone.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Drone log not found")
	case err != nil:
		log.Println("could not resolve drone status:", err)
		writeJSONError(w, http.StatusInternalServerError, "Error fetching drone status")
	default:
		writeJSON(w, http.StatusOK, status)
	}
}

// the listing may take longer than the server write timeout. it is bounded by the
// page cap, the per fetch upstream timeout and the client staying connected instead.
func (env *environment) GetLogs(w http.ResponseWriter, r *http.Request) {

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Println("could not lift the write deadline of the log listing:", err)
	}

	logs, err := env.Logs.ListLogs(r.Context())
	if err != nil {
		log.Println("Error fetching drone logs:", err)
		writeJSONError(w, http.StatusInternalServerError, "Error fetching drone logs")
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

func (env *environment) PostLog(w http.ResponseWriter, r *http.Request) {

	celsius, err := celsiusFromRequest(r)
	if err != nil {
		log.Println("could not decode log payload:", err)
		writeError(w, http.StatusBadRequest)
		return
	}

	result, err := env.Logs.AppendLog(r.Context(), celsius)
	switch {
	case errors.Is(err, drone.ErrMissingField):
		writeText(w, http.StatusBadRequest, "Please provide the celsius value")
	case err != nil:
		log.Println("Error:", err)
		writeText(w, http.StatusInternalServerError, "Error handling the data")
	default:
		log.Println("Data generated:", string(result.GeneratedData))
		writeJSON(w, http.StatusOK, result)
	}
}

// reads celsius from a json, multipart or url encoded body, nil when it is absent
func celsiusFromRequest(r *http.Request) (*fastjson.Value, error) {

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, errors.Wrap(err, "could not read body")
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, nil
		}

		var p fastjson.Parser
		v, err := p.ParseBytes(body)
		if err != nil {
			return nil, errors.Wrap(err, "invalid json body")
		}
		return v.Get(drone.FieldCelsius), nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, errors.Wrap(err, "invalid multipart body")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, errors.Wrap(err, "invalid form body")
		}
	}

	if _, ok := r.PostForm[drone.FieldCelsius]; !ok {
		return nil, nil
	}

	var arena fastjson.Arena
	return arena.NewString(r.PostForm.Get(drone.FieldCelsius)), nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("could not encode response:", err)
		writeError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func writeText(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, message)
}

func writeError(w http.ResponseWriter, statusCode int) {
	w.WriteHeader(statusCode)
	_, _ = fmt.Fprintln(w, statusCode, http.StatusText(statusCode))
}
