package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/models"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingHandler manages runtime settings.
type SettingHandler struct {
	db *gorm.DB // Database handle for settings.
}

// NewSettingHandler constructs a settings handler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

var nonNegativeIntSettingKeys = map[string]struct{}{
	internalsettings.RateLimitKey:              {},
	internalsettings.PaymentRateLimitKey:       {},
	internalsettings.PaymentRateLimitWindowKey: {},
	internalsettings.RateLimitRedisDBKey:       {},
	internalsettings.SignupCreditsKey:          {},
}

var boolSettingKeys = map[string]struct{}{
	internalsettings.RateLimitRedisEnabledKey: {},
}

var stringSettingKeys = map[string]struct{}{
	internalsettings.SiteNameKey:               {},
	internalsettings.RateLimitRedisAddrKey:     {},
	internalsettings.RateLimitRedisPasswordKey: {},
	internalsettings.RateLimitRedisPrefixKey:   {},
}

var (
	errUnknownSettingKey       = errors.New("unknown setting key")
	errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")
	errBoolValue               = errors.New("value must be a boolean")
	errStringValue             = errors.New("value must be a string")
)

// List returns all settings sorted by key. Secrets are masked.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatSetting(&row))
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// updateSettingRequest captures the payload for updating a setting.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"` // New JSON value.
}

// Update upserts a setting value and refreshes the snapshot.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errValidate := validateSettingValue(key, body.Value); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	ctx := c.Request.Context()
	setting := models.Setting{Key: key, Value: datatypes.JSON(body.Value)}
	if errUpsert := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if errRefresh := internalsettings.Refresh(ctx, h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh settings snapshot failed"})
		return
	}
	log.WithFields(log.Fields{"key": key, "admin_id": c.GetUint64("adminID")}).Info("setting updated")
	c.JSON(http.StatusOK, formatSetting(&setting))
}

func validateSettingValue(key string, value json.RawMessage) error {
	if _, ok := nonNegativeIntSettingKeys[key]; ok {
		if _, okInt := internalsettings.ParseNonNegativeInt(value); !okInt {
			return errNonNegativeIntegerValue
		}
		return nil
	}
	if _, ok := boolSettingKeys[key]; ok {
		if _, okBool := internalsettings.ParseBool(value); !okBool {
			return errBoolValue
		}
		return nil
	}
	if _, ok := stringSettingKeys[key]; ok {
		if _, okString := internalsettings.ParseString(value); !okString {
			return errStringValue
		}
		return nil
	}
	return errUnknownSettingKey
}

// formatSetting formats a setting row into response JSON.
func formatSetting(s *models.Setting) gin.H {
	value := json.RawMessage(s.Value)
	if s.Key == internalsettings.RateLimitRedisPasswordKey && len(value) > 0 {
		value = json.RawMessage(`"********"`)
	}
	return gin.H{
		"key":       s.Key,
		"value":     value,
		"updatedAt": s.UpdatedAt,
	}
}
