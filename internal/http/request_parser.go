package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"finai/internal/core"
	"finai/internal/table"
)

// HeaderOwnerID identifies the owner whose tables a request works on.
const HeaderOwnerID = "X-Owner-ID"

const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

// ownerID reads the owner from the request header.
func ownerID(r *http.Request) (string, error) {
	id := sanitizeInput(r.Header.Get(HeaderOwnerID))
	if id == "" {
		return "", fmt.Errorf("%w: missing %s header", errInvalidRequest, HeaderOwnerID)
	}
	return id, nil
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}

type detailsRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ThemeColor  *string `json:"themeColor"`
}

type duplicateRequest struct {
	Mode       string   `json:"mode"`
	Multiplier *float64 `json:"multiplier"`
}

// mode returns the duplication mode. An empty mode copies.
func (d duplicateRequest) mode() (table.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(d.Mode)) {
	case "", "copy":
		return table.Copy(), nil
	case "projection", "project":
		if d.Multiplier == nil {
			return table.Mode{}, fmt.Errorf("%w: projection needs a multiplier", core.ErrInvalidMultiplier)
		}
		return table.Projection(*d.Multiplier), nil
	}
	return table.Mode{}, fmt.Errorf("%w: unknown duplicate mode %q", errInvalidRequest, d.Mode)
}

type readOnlyRequest struct {
	ReadOnly bool `json:"readOnly"`
}

// cellRequest carries either a typed value stored as given, or raw user
// input coerced to the column type.
type cellRequest struct {
	Value *core.Value `json:"value"`
	Raw   *string     `json:"raw"`
}

func (c cellRequest) validate() error {
	if c.Raw == nil && c.Value == nil {
		return fmt.Errorf("%w: value or raw is required", errInvalidRequest)
	}
	return nil
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type acceptRequest struct {
	Draft *core.TableDraft `json:"draft"`
}
