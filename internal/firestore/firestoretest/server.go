// Package firestoretest provides an in-memory stand-in for the Firestore REST
// documents API, covering create, patch with a field mask, and get.
package firestoretest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// Request is one call observed by the server.
type Request struct {
	Method     string
	Collection string
	ID         string
	Mask       []string
	Auth       string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	docs     map[string]map[string]json.RawMessage
	requests []Request
	failures map[string]int
}

func NewServer() *Server {
	s := &Server{
		docs:     map[string]map[string]json.RawMessage{},
		failures: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL is the value to pass as firestore.Config.BaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// FailNext makes the next call with the given method answer with status.
func (s *Server) FailNext(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = status
}

// Requests returns a copy of the calls seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RawFields returns the stored wire fields of collection/id.
func (s *Server) RawFields(collection, id string) (map[string]json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[collection+"/"+id]
	if !ok {
		return nil, false
	}
	out := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	const marker = "/documents/"
	i := strings.Index(r.URL.Path, marker)
	if !strings.HasPrefix(r.URL.Path, "/v1/projects/") || i < 0 {
		writeStatus(w, http.StatusNotFound, "NOT_FOUND", "unknown path")
		return
	}
	parts := strings.Split(r.URL.Path[i+len(marker):], "/")

	req := Request{
		Method:     r.Method,
		Collection: parts[0],
		Mask:       r.URL.Query()["updateMask.fieldPaths"],
		Auth:       r.Header.Get("Authorization"),
	}
	if r.Method == http.MethodPost {
		req.ID = r.URL.Query().Get("documentId")
	} else if len(parts) > 1 {
		req.ID = parts[1]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if status, ok := s.failures[r.Method]; ok {
		delete(s.failures, r.Method)
		writeStatus(w, status, http.StatusText(status), "injected failure")
		return
	}
	if !strings.HasPrefix(req.Auth, "Bearer ") {
		writeStatus(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
		return
	}

	key := req.Collection + "/" + req.ID
	switch r.Method {
	case http.MethodPost:
		if _, exists := s.docs[key]; exists {
			writeStatus(w, http.StatusConflict, "ALREADY_EXISTS", "Document already exists: "+key)
			return
		}
		fields, err := readFields(r)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		s.docs[key] = fields
		writeDoc(w, key, fields)

	case http.MethodPatch:
		doc, exists := s.docs[key]
		if !exists && r.URL.Query().Get("currentDocument.exists") == "true" {
			writeStatus(w, http.StatusNotFound, "NOT_FOUND", "No document to update: "+key)
			return
		}
		if doc == nil {
			doc = map[string]json.RawMessage{}
		}
		fields, err := readFields(r)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		if len(req.Mask) == 0 {
			doc = fields
		}
		for _, path := range req.Mask {
			path = strings.Trim(path, "`")
			if v, ok := fields[path]; ok {
				doc[path] = v
			} else {
				delete(doc, path)
			}
		}
		s.docs[key] = doc
		writeDoc(w, key, doc)

	case http.MethodGet:
		doc, exists := s.docs[key]
		if !exists {
			writeStatus(w, http.StatusNotFound, "NOT_FOUND", "Document not found: "+key)
			return
		}
		writeDoc(w, key, doc)

	default:
		writeStatus(w, http.StatusMethodNotAllowed, "INVALID_ARGUMENT", "method not allowed")
	}
}

func readFields(r *http.Request) (map[string]json.RawMessage, error) {
	var body struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid document: %v", err)
	}
	if body.Fields == nil {
		body.Fields = map[string]json.RawMessage{}
	}
	return body.Fields, nil
}

func writeDoc(w http.ResponseWriter, key string, fields map[string]json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":   "projects/test/databases/(default)/documents/" + key,
		"fields": fields,
	})
}

func writeStatus(w http.ResponseWriter, code int, status, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg, "status": status},
	})
}

// StaticToken is a token provider returning a fixed bearer token.
type StaticToken string

func (t StaticToken) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(t), TokenType: "Bearer"}, nil
}
