package http

import (
	"fmt"
	"io"
	"net/http"

	"kakeibo/internal/core"
)

// maxBodyBytes caps request bodies; larger bodies are rejected as invalid.
const maxBodyBytes = 1 << 20

// readFields reads the request body and decodes it as a JSON object.
func readFields(w http.ResponseWriter, r *http.Request) (core.Fields, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrInvalidBody, err)
	}
	return core.DecodeFields(body)
}
