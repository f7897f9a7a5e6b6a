package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/gin-gonic/gin"
)

// GetConfig handles GET /v1/config: a redacted view of the current
// configuration, no secrets (spec.md §4.H).
func GetConfig(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, srv.Config.Load().Redacted())
	}
}

// configUpdateResponse reports whether the applied update requires a
// model reload (spec.md §4.H: "responses flag whether a model reload is
// required").
type configUpdateResponse struct {
	Config         config.Config `json:"config"`
	ReloadRequired bool          `json:"reload_required"`
}

// PostConfig handles POST /v1/config: merges the posted fields into the
// current configuration and publishes a new immutable snapshot. Only
// fields actually present in the request body are considered "set";
// absent fields keep their current value (spec.md §4.H).
func PostConfig(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			respondValidationError(c, err)
			return
		}

		var presence map[string]json.RawMessage
		if err := json.Unmarshal(raw, &presence); err != nil {
			respondValidationError(c, err)
			return
		}

		var update config.Config
		if err := json.Unmarshal(raw, &update); err != nil {
			respondValidationError(c, err)
			return
		}

		setFields := make([]string, 0, len(presence))
		for k := range presence {
			setFields = append(setFields, k)
		}

		current := srv.Config.Load()
		merged, reloadRequired := current.Merge(update, setFields)
		srv.Config.Replace(merged)

		c.JSON(http.StatusOK, configUpdateResponse{
			Config:         merged.Redacted(),
			ReloadRequired: reloadRequired,
		})
	}
}
