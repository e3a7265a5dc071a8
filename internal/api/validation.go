package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gray-logic-voice/internal/device"
)

// newValidator returns a validator that reports JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// Request bodies.

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// assignRequest fields keep the current value when absent, clear it on
// null and set it on a string.
type assignRequest struct {
	DeviceType device.Update `json:"device_type"`
	Location   device.Update `json:"location"`
}

type vocabularyRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type createTopicRequest struct {
	ID      string `json:"id" validate:"required,max=64"`
	Model   string `json:"model" validate:"required_with=Backend"`
	Backend string `json:"backend" validate:"required_with=Model"`
	Prompt  string `json:"prompt" validate:"max=4096"`
	Enabled bool   `json:"enabled"`
}

type configureTopicRequest struct {
	Model   string `json:"model" validate:"required"`
	Backend string `json:"backend" validate:"required"`
	Prompt  string `json:"prompt" validate:"max=4096"`
}

type invokeRequest struct {
	Text string `json:"text" validate:"required,max=1024"`
}
