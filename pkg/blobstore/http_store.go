package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxBlobSize bounds request and response bodies on the filerunner protocol.
const maxBlobSize = 256 << 20

// HTTPStore talks to a filerunner service: GET /get-<name> returns the blob,
// POST /set-<name> replaces it.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a client for the filerunner at baseURL.
func NewHTTPStore(baseURL string, client *http.Client) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("blobstore: filerunner URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}, nil
}

// Get implements Store.
func (s *HTTPStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/get-"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, unavailable("get", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, notFound(name)
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable("get", name, fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
	if err != nil {
		return nil, unavailable("get", name, err)
	}
	if len(data) > maxBlobSize {
		return nil, unavailable("get", name, errors.New("blob exceeds size limit"))
	}
	return data, nil
}

// Put implements Store.
func (s *HTTPStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/set-"+name, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("blobstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return unavailable("put", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return unavailable("put", name, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// NewHandler serves a Store over the filerunner protocol. Unknown names
// outside allowed are refused with 404.
func NewHandler(store Store, allowed ...string) http.Handler {
	if len(allowed) == 0 {
		allowed = []string{BlobDB, BlobSealData}
	}
	logger := slog.Default().With("component", "filerunner")
	mux := http.NewServeMux()

	for _, name := range allowed {
		mux.HandleFunc("GET /get-"+name, func(w http.ResponseWriter, r *http.Request) {
			data, err := store.Get(r.Context(), name)
			if errors.Is(err, ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if err != nil {
				logger.ErrorContext(r.Context(), "get failed", "blob", name, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write(data)
		})
		mux.HandleFunc("POST /set-"+name, func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobSize))
			if err != nil {
				http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
				return
			}
			if err := store.Put(r.Context(), name, data); err != nil {
				logger.ErrorContext(r.Context(), "set failed", "blob", name, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			logger.InfoContext(r.Context(), "blob stored", "blob", name, "bytes", len(data))
			w.WriteHeader(http.StatusOK)
		})
	}
	return mux
}
