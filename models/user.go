package models

import (
	"context"
	"errors"
	"html"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	FactoryId string    `gorm:"size:64;index;not null" json:"factory_id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Phone     string    `gorm:"size:30" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"password,omitempty"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	RoleId    int       `gorm:"not null;default:0" json:"role_id"`
	Role      UserRole  `gorm:"size:1;not null;default:'C'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u User) GetFactoryId() string { return u.FactoryId }

type NewUser struct {
	Username string   `json:"username" validate:"required,max=100"`
	Name     string   `json:"name" validate:"required,max=100"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password"`
	IsActive *bool    `json:"is_active"`
	RoleId   int      `json:"role_id"`
	Role     UserRole `json:"role"`
}

type LoginInfo struct {
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	FactoryId   string   `json:"factory_id"`
	FactoryName string   `json:"factory_name"`
	Timezone    string   `json:"timezone"`
	Permissions []string `json:"permissions"`
}

var ErrorInvalidLogin = errors.New("invalid username or password")

func (result *User) PrepareGive() {
	result.Password = ""
}

// GetUserByUsername is used by the session middleware, cached under User:<username>.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}
	db := config.GetDB()
	if err := db.WithContext(utils.SetSkipTenantScopeInContext(ctx, true)).
		Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, utils.NormalizeDBError(err)
	}
	if err := config.SetRedisObject("User:"+user.Username, &user, utils.GetCacheLifespan()); err != nil {
		return nil, err
	}
	return &user, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	user, err := GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorInvalidLogin
		}
		return nil, err
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrorInvalidLogin
		}
		return nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("user is disabled")
	}

	info, err := buildLoginInfo(ctx, user)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	info.Token = token
	if err := config.AddRedisSet("Tokens:"+user.Username, token); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue(config.SessionKey(token), user.Username, config.TokenLifespan()); err != nil {
		return nil, err
	}
	return info, nil
}

func buildLoginInfo(ctx context.Context, user *User) (*LoginInfo, error) {
	info := LoginInfo{
		Name:      user.Name,
		Username:  user.Username,
		FactoryId: user.FactoryId,
		Timezone:  config.DefaultTimezone,
	}
	if factory, err := GetFactoryById(ctx, user.FactoryId); err == nil {
		info.FactoryName = factory.Name
		info.Timezone = factory.Timezone
	}

	switch user.Role {
	case UserRoleAdmin:
		info.Role = "Admin"
	case UserRoleOwner:
		info.Role = "Owner"
	}
	if user.Role == UserRoleAdmin || user.Role == UserRoleOwner {
		catalog, err := ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range catalog {
			info.Permissions = append(info.Permissions, p.Name)
		}
		return &info, nil
	}

	scoped := utils.SetFactoryIdInContext(ctx, user.FactoryId)
	role, err := utils.FetchModel[Role](scoped, user.FactoryId, user.RoleId)
	if err != nil {
		return nil, err
	}
	info.Role = role.Name
	allowed, err := GetAllowedPermissions(scoped, user.RoleId)
	if err != nil {
		return nil, err
	}
	for name := range allowed {
		info.Permissions = append(info.Permissions, name)
	}
	sort.Strings(info.Permissions)
	return &info, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	if err := config.RemoveRedisKey(config.SessionKey(token)); err != nil {
		return false, err
	}
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

// IssueAPIToken returns a bearer JWT for integrations acting as the current user.
func IssueAPIToken(ctx context.Context) (string, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return "", utils.ErrorUnauthorized
	}
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return utils.JwtGenerate(user.ID, user.FactoryId, user.Username, string(user.Role), config.TokenLifespan())
}

func (input *NewUser) validate(ctx context.Context, factoryId string, exceptId int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	input.Username = html.EscapeString(strings.TrimSpace(input.Username))
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.NewFieldError("email", "invalid email address")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewFieldError("phone", err.Error())
		}
	}
	if input.Role == "" {
		input.Role = UserRoleCustom
	}
	if !input.Role.IsValid() {
		return utils.NewFieldError("role", "must be A, O or C")
	}
	if input.Role == UserRoleCustom {
		if err := utils.ValidateResourceId[Role](ctx, factoryId, input.RoleId); err != nil {
			return utils.NewFieldError("role_id", "role not found")
		}
	}
	// usernames and emails are unique across factories
	global := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := utils.ValidateUnique[User](global, "", "username", input.Username, exceptId); err != nil {
		return err
	}
	if input.Email != "" {
		if err := utils.ValidateUnique[User](global, "", "email", input.Email, exceptId); err != nil {
			return err
		}
	}
	return nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, 0); err != nil {
		return nil, err
	}
	if len(input.Password) < utils.MinPasswordLength {
		return nil, utils.NewFieldError("password", utils.ErrorPasswordTooShort.Error())
	}
	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	if input.IsActive == nil {
		input.IsActive = utils.NewTrue()
	}

	user := User{
		FactoryId: factoryId,
		Username:  input.Username,
		Name:      input.Name,
		Email:     utils.NilIfEmpty(input.Email),
		Phone:     input.Phone,
		Password:  string(hashedPassword),
		IsActive:  input.IsActive,
		Role:      input.Role,
		RoleId:    input.RoleId,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&user).Error
	if err == nil {
		user.PrepareGive()
		err = createHistory(tx, "CREATE", user.ID, "users", nil, user, "created user "+user.Username)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := user.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[User](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	result.PrepareGive()
	return result, nil
}

func GetUsers(ctx context.Context) ([]*User, error) {
	results, err := ListAllResource[User](ctx, "username")
	if err != nil {
		return nil, err
	}
	for _, u := range results {
		u.PrepareGive()
	}
	return results, nil
}

func UpdateUser(ctx context.Context, id int, input *NewUser) (*User, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[User](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, id); err != nil {
		return nil, err
	}
	if input.IsActive == nil {
		input.IsActive = before.IsActive
	}

	updates := map[string]interface{}{
		"Username": input.Username,
		"Name":     input.Name,
		"Email":    utils.NilIfEmpty(input.Email),
		"Phone":    input.Phone,
		"IsActive": input.IsActive,
		"Role":     input.Role,
		"RoleId":   input.RoleId,
	}
	if input.Password != "" {
		if len(input.Password) < utils.MinPasswordLength {
			return nil, utils.NewFieldError("password", utils.ErrorPasswordTooShort.Error())
		}
		hashed, err := utils.HashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		updates["Password"] = string(hashed)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&User{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(updates).Error
	if err == nil {
		before.PrepareGive()
		err = createHistory(tx, "UPDATE", id, "users", before, input, "updated user "+input.Username)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*before); err != nil {
		return nil, err
	}
	// a disabled user or a renamed account loses its sessions
	if !*input.IsActive || before.Username != input.Username || input.Password != "" {
		if err := before.DestroyAllSessions(ctx); err != nil {
			return nil, err
		}
	}
	return GetUser(ctx, id)
}

func DeleteUser(ctx context.Context, id int) (*User, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[User](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if currentId, ok := utils.GetUserIdFromContext(ctx); ok && currentId == id {
		return nil, utils.NewValidationError("cannot delete your own account")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Delete(result).Error
	if err == nil {
		result.PrepareGive()
		err = createHistory(tx, "DELETE", id, "users", result, nil, "deleted user "+result.Username)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	if err := result.DestroyAllSessions(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (user *User) DestroyAllSessions(ctx context.Context) error {
	allTokens, err := config.GetRedisSetMembers("Tokens:" + user.Username)
	if err != nil {
		return err
	}
	for _, token := range allTokens {
		if err := config.RemoveRedisKey(config.SessionKey(token)); err != nil {
			return err
		}
	}
	return config.RemoveRedisKey("Tokens:" + user.Username)
}

func ChangePassword(ctx context.Context, oldPassword string, newPassword string) (*User, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	user, err := utils.FetchModel[User](ctx, factoryId, userId)
	if err != nil {
		return nil, err
	}
	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return nil, utils.NewFieldError("old_password", "old password is wrong")
	}
	if len(newPassword) < utils.MinPasswordLength {
		return nil, utils.NewFieldError("new_password", utils.ErrorPasswordTooShort.Error())
	}
	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(user).UpdateColumn("password", string(hashedPassword)).Error
	if err == nil {
		err = createHistory(tx, "UPDATE", user.ID, "users", nil, nil, "changed password")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return nil, err
	}
	if err := user.DestroyAllSessions(ctx); err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}
