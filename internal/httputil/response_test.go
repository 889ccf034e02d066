package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/pkg/logger"
)

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/modules/bank", nil)
	req = req.WithContext(logger.WithTraceID(req.Context(), "trace-42"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, apperrors.NotFound("module", "bank"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "NOT_FOUND" || body.TraceID != "trace-42" || body.Details["resource"] != "module" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, errString("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("internal cause leaked: %s", rec.Body.String())
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    string
	}{
		{name: "valid", body: `{"moduleName":"welcome"}`, want: "welcome"},
		{name: "empty body", body: ""},
		{name: "unknown field", body: `{"moduleName":"welcome","extra":1}`, wantErr: true},
		{name: "malformed", body: `{"moduleName":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(tt.body))
			var dst struct {
				ModuleName string `json:"moduleName"`
			}
			err := DecodeJSON(req, &dst)
			if tt.wantErr {
				if !apperrors.Is(err, apperrors.ErrInvalidInput) {
					t.Fatalf("error = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dst.ModuleName != tt.want {
				t.Errorf("moduleName = %q, want %q", dst.ModuleName, tt.want)
			}
		})
	}
}
