/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httplib implements common utility functions for writing
// classic HTTP handlers.
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// Legacy status codes the wire protocol depends on. 209 signals an
// unavailable label on the availability check and 280 signals a missing
// user on the domain lookup. Clients key off these values.
const (
	StatusDomainUnavailable = 209
	StatusUserNotFound      = 280
)

// maxRequestBody bounds request bodies read by ReadJSON.
const maxRequestBody = 1 << 20

// HandlerFunc specifies an HTTP handler function that returns a JSON
// serializable result or an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler returns a new httprouter.Handle func from a handler func.
// A nil result means the handler already wrote the response.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out != nil {
			ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// ReadJSON reads an HTTP JSON request body and unmarshals it into val.
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return trace.BadParameter("request: %v", err)
	}
	return nil
}

// ReplyJSON writes an arbitrary value as a JSON response with the given
// status code.
func ReplyJSON(w http.ResponseWriter, code int, out any) {
	data, err := json.Marshal(out)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(data)
}

// ErrorResponse is the body shape of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReplyError converts an error into an HTTP error response.
//
// The mapping intentionally differs from common REST practice in two
// places: access denials reply 401 (the clients are programs holding a
// key, not browsers mid-handshake) and conflicts reply 500 (legacy
// behavior the agents depend on).
func ReplyError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case trace.IsNotFound(err):
		code = http.StatusNotFound
	case trace.IsBadParameter(err):
		code = http.StatusBadRequest
	case trace.IsAccessDenied(err):
		code = http.StatusUnauthorized
	case trace.IsConnectionProblem(err):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	ReplyJSON(w, code, ErrorResponse{Error: trace.UserMessage(err)})
}
