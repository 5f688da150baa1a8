package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{apperrors.ErrValidation, http.StatusBadRequest},
	{apperrors.ErrNotFound, http.StatusNotFound},
	{apperrors.ErrConflict, http.StatusConflict},
	{apperrors.ErrConfiguration, http.StatusUnprocessableEntity},
	{apperrors.ErrUnavailable, http.StatusServiceUnavailable},
}

// translateError maps engine sentinels onto fiber errors. Anything else is
// passed through and ends up as a logged 500.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range statusBySentinel {
		if !errors.Is(err, m.err) {
			continue
		}
		if m.status == http.StatusNotFound {
			return fiber.NewError(m.status, "campaign not found")
		}
		return fiber.NewError(m.status, err.Error())
	}
	return err
}
