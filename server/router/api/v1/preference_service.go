package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/stylebot/ai/ranking"
)

// UpdatePreferences replaces a shopper's personalization preferences.
func (s *APIV1Service) UpdatePreferences(c echo.Context) error {
	if s.Preferences == nil {
		return unavailable("preference store")
	}
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	var prefs ranking.Preferences
	if err := c.Bind(&prefs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid preferences").SetInternal(err)
	}
	if err := prefs.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	profile, err := s.Preferences.SaveProfile(c.Request().Context(), userID, prefs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save preferences").SetInternal(err)
	}
	return c.JSON(http.StatusOK, profile)
}
