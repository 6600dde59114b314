package controllers

import (
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/middleware"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/services"
	"github.com/vocabnest/vocabnest/utils"
)

// AuthController handles authentication related endpoints including local and third-party providers.
type AuthController struct {
	db       *gorm.DB
	accounts *services.AccountService
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(db *gorm.DB, accounts *services.AccountService) *AuthController {
	return &AuthController{db: db, accounts: accounts}
}

// Register handles local account registration with bcrypt hashing.
func (a *AuthController) Register(ctx *gin.Context) {
	type request struct {
		Username       string `json:"username" binding:"required"`
		Email          string `json:"email"`
		Password       string `json:"password" binding:"required"`
		DisplayName    string `json:"display_name"`
		NativeLanguage string `json:"native_language"`
		TargetLanguage string `json:"target_language"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if l := utf8.RuneCountInString(req.Username); l < 3 || l > 64 || !validUsername(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username must be 3-64 letters, digits, '-' or '_'")
		return
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40002, "invalid email address")
			return
		}
	}

	var count int64
	a.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count)
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	user := models.User{
		Username:       req.Username,
		Email:          email,
		PasswordHash:   hash,
		Provider:       "local",
		DisplayName:    clipRunes(utils.SanitizePlain(req.DisplayName), 64),
		NativeLanguage: languageCode(req.NativeLanguage),
		TargetLanguage: languageCode(req.TargetLanguage),
	}
	if err := a.db.Create(&user).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
		return
	}

	a.issueToken(ctx, user)
}

// Login verifies user credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	a.issueToken(ctx, user)
}

// Logout revokes the presented token until it would have expired.
func (a *AuthController) Logout(ctx *gin.Context) {
	jti := ctx.GetString(middleware.ContextTokenIDKey)
	if jti == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "invalid token")
		return
	}
	expiresAt := ctx.GetTime(middleware.ContextTokenExpiryKey)
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(72 * time.Hour)
	}
	utils.RevokeToken(jti, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}

	utils.Success(ctx, sanitizeUserResponse(user))
}

// UpdateProfile allows the authenticated user to update profile fields. Absent fields are left unchanged.
func (a *AuthController) UpdateProfile(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}

	var req struct {
		Email          *string `json:"email"`
		DisplayName    *string `json:"display_name"`
		NativeLanguage *string `json:"native_language"`
		TargetLanguage *string `json:"target_language"`
		Password       *string `json:"password"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}

	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				utils.Error(ctx, http.StatusBadRequest, 40031, "invalid email address")
				return
			}
		}
		user.Email = email
	}
	if req.DisplayName != nil {
		user.DisplayName = clipRunes(utils.SanitizePlain(*req.DisplayName), 64)
	}
	if req.NativeLanguage != nil {
		user.NativeLanguage = languageCode(*req.NativeLanguage)
	}
	if req.TargetLanguage != nil {
		user.TargetLanguage = languageCode(*req.TargetLanguage)
	}
	if req.Password != nil {
		hash, err := utils.HashPassword(*req.Password)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40032, err.Error())
			return
		}
		user.PasswordHash = hash
	}

	if err := a.db.Save(&user).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to update profile")
		return
	}

	utils.Success(ctx, sanitizeUserResponse(user))
}

// DeleteAccount removes the user's data and revokes the current token.
func (a *AuthController) DeleteAccount(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	if err := a.accounts.DeleteAccount(ctx.Request.Context(), userID); err != nil {
		respondServiceError(ctx, err, 50032, "failed to delete account")
		return
	}
	if jti := ctx.GetString(middleware.ContextTokenIDKey); jti != "" {
		utils.RevokeToken(jti, ctx.GetTime(middleware.ContextTokenExpiryKey))
	}
	utils.Success(ctx, gin.H{"message": "account deleted"})
}

func (a *AuthController) issueToken(ctx *gin.Context, user models.User) {
	token, expiresAt, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	utils.Success(ctx, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       sanitizeUserResponse(user),
	})
}

func validUsername(s string) bool {
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

// languageCode keeps BCP 47 style tags like "es" or "pt-br".
func languageCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 16 {
		return ""
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '-' {
			return ""
		}
	}
	return s
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sanitizeUserResponse(user models.User) gin.H {
	return gin.H{
		"id":                user.ID,
		"username":          user.Username,
		"email":             user.Email,
		"provider":          user.Provider,
		"display_name":      user.DisplayName,
		"native_language":   user.NativeLanguage,
		"target_language":   user.TargetLanguage,
		"total_work_points": user.TotalWorkPoints,
		"last_sync_at":      user.LastSyncAt,
		"created_at":        user.CreatedAt,
	}
}
