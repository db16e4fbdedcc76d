package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/config"
	dbutil "github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/http/api/admin/permissions"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdminHandler manages operator login and operator accounts.
type AdminHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
	now    func() time.Time
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AdminHandler {
	return &AdminHandler{db: db, jwtCfg: jwtCfg, now: time.Now}
}

// loginRequest defines the admin login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks the admin password and issues an admin token.
func (h *AdminHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}

	ctx := c.Request.Context()
	var admin models.Admin
	if errFind := h.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Error("admin login lookup failed")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !security.CheckPassword(admin.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
		return
	}

	token, errToken := security.GenerateAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username, h.jwtCfg.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	now := h.now().UTC()
	if errUpdate := h.db.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Update("last_login_at", now).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("record admin login failed")
	}
	admin.LastLoginAt = &now
	c.JSON(http.StatusOK, gin.H{"token": token, "admin": adminJSON(&admin)})
}

// List returns all admin accounts.
func (h *AdminHandler) List(c *gin.Context) {
	var rows []models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list admins failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, adminJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"admins": out})
}

// createAdminRequest defines the payload for creating an admin.
type createAdminRequest struct {
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	IsSuperAdmin bool     `json:"isSuperAdmin"`
	Permissions  []string `json:"permissions"`
}

// Create adds an operator account. Only super admins may create super admins.
func (h *AdminHandler) Create(c *gin.Context) {
	var body createAdminRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}
	if body.IsSuperAdmin && !c.GetBool("adminIsSuperAdmin") {
		c.JSON(http.StatusForbidden, gin.H{"error": "only super admins can create super admins"})
		return
	}
	if errValidate := permissions.ValidatePermissions(body.Permissions); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	perms, errMarshal := permissions.MarshalPermissions(body.Permissions)
	if errMarshal != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid permissions"})
		return
	}
	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	admin := models.Admin{
		Username:     username,
		Password:     hash,
		Active:       true,
		IsSuperAdmin: body.IsSuperAdmin,
		Permissions:  perms,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&admin).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create admin failed"})
		return
	}
	log.WithFields(log.Fields{"admin": username, "created_by": c.GetUint64("adminID")}).Info("admin created")
	c.JSON(http.StatusCreated, adminJSON(&admin))
}

// Permissions returns every permission definition.
func (h *AdminHandler) Permissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": permissions.Definitions()})
}

func adminJSON(admin *models.Admin) gin.H {
	return gin.H{
		"id":           admin.ID,
		"username":     admin.Username,
		"active":       admin.Active,
		"isSuperAdmin": admin.IsSuperAdmin,
		"permissions":  permissions.ParsePermissions(admin.Permissions),
		"lastLoginAt":  admin.LastLoginAt,
		"createdAt":    admin.CreatedAt,
	}
}
