package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// DateLayout is the calendar-date format accepted in query strings and bodies.
const DateLayout = "2006-01-02"

// QueryInt reads an integer query parameter, returning def when it is absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(map[string]string{name: "must be an integer"})
	}
	return v, nil
}

// QueryDate reads a YYYY-MM-DD query parameter. The zero time means absent.
func QueryDate(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, errors.Validation(map[string]string{name: "must be a date in YYYY-MM-DD format"})
	}
	return t, nil
}

// ParseUUID validates a path or query identifier.
func ParseUUID(name, raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.Validation(map[string]string{name: "must be a valid UUID"})
	}
	return id.String(), nil
}
