package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/internal/settling"
	"kin-spark-go/pkg/hash"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/token"
)

// ErrInvalidCredentials 登录凭证无效，对外不区分账号不存在与密码错误。
var ErrInvalidCredentials = errors.New("invalid credentials")

// SettingsPatch 是租户设置的部分更新载荷，nil 字段表示不改动。
// Orientation 选择内置人设模板；OrientationOverride 是完整的自定义模板文本，
// 非空时组装器会用它替代内置模板。
type SettingsPatch struct {
	Settling            *model.SettlingConfig `json:"settling"`
	Orientation         *string               `json:"orientation"`
	OrientationOverride *string               `json:"orientationOverride"`
	MaxTurns            *int                  `json:"maxTurns"`
	RateLimitRPM        *int                  `json:"rateLimitRpm"`
}

// AdminService 定义了管理后台账号与租户设置的接口。
type AdminService interface {
	Login(email, password string) (accessToken, refreshToken string, user *model.AdminUser, err error)
	Refresh(refreshToken string) (newAccessToken, newRefreshToken string, err error)
	Me(adminID uint) (*model.AdminUser, error)
	Client(clientID uint) (*model.Client, error)
	UpdateSettings(clientID uint, patch *SettingsPatch) (*model.Client, error)
}

type adminService struct {
	adminRepo  repository.AdminUserRepository
	clientRepo repository.ClientRepository
	jwtManager *token.JWTManager
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(adminRepo repository.AdminUserRepository, clientRepo repository.ClientRepository, jwtManager *token.JWTManager) AdminService {
	return &adminService{
		adminRepo:  adminRepo,
		clientRepo: clientRepo,
		jwtManager: jwtManager,
	}
}

// Login 校验邮箱密码并签发令牌对。
func (s *adminService) Login(email, password string) (string, string, *model.AdminUser, error) {
	// 1. 查找启用中的账号
	user, err := s.adminRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", nil, ErrInvalidCredentials
		}
		return "", "", nil, err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.PasswordHash) {
		return "", "", nil, ErrInvalidCredentials
	}

	// 3. 生成 access token 和 refresh token
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role, user.ClientID)
	if err != nil {
		return "", "", nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role, user.ClientID)
	if err != nil {
		return "", "", nil, err
	}

	log.Infof("[Admin] 账号 %s 登录成功（租户 %d）", user.Email, user.ClientID)
	return accessToken, refreshToken, user, nil
}

// Refresh 用刷新令牌换发新的令牌对。
func (s *adminService) Refresh(refreshToken string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return "", "", err
	}
	if claims.TokenType != token.TypeRefresh {
		return "", "", errors.New("不是刷新令牌")
	}

	// 换发前确认账号仍然有效
	user, err := s.adminRepo.FindByID(claims.AdminID)
	if err != nil || !user.Active {
		return "", "", ErrInvalidCredentials
	}

	newAccess, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role, user.ClientID)
	if err != nil {
		return "", "", err
	}
	newRefresh, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role, user.ClientID)
	if err != nil {
		return "", "", err
	}
	return newAccess, newRefresh, nil
}

func (s *adminService) Me(adminID uint) (*model.AdminUser, error) {
	return s.adminRepo.FindByID(adminID)
}

func (s *adminService) Client(clientID uint) (*model.Client, error) {
	return s.clientRepo.FindByID(clientID)
}

// UpdateSettings 部分更新租户的人设配置与朝向覆盖。
func (s *adminService) UpdateSettings(clientID uint, patch *SettingsPatch) (*model.Client, error) {
	if patch.Settling != nil {
		if err := patch.Settling.Validate(); err != nil {
			return nil, err
		}
		if err := s.clientRepo.UpdateSettling(clientID, *patch.Settling); err != nil {
			return nil, fmt.Errorf("更新人设配置失败: %w", err)
		}
	}
	if patch.Orientation != nil {
		orientation := *patch.Orientation
		switch orientation {
		case settling.OrientationProfessional, settling.OrientationFriendly, settling.OrientationMinimal:
		default:
			return nil, fmt.Errorf("无效的人设朝向: %s", orientation)
		}
		if err := s.clientRepo.UpdateOrientation(clientID, orientation); err != nil {
			return nil, fmt.Errorf("更新人设朝向失败: %w", err)
		}
	}
	if patch.OrientationOverride != nil {
		// 自定义模板是自由文本，空串表示清除覆盖、回到内置模板
		if err := s.clientRepo.UpdateOrientationOverride(clientID, *patch.OrientationOverride); err != nil {
			return nil, fmt.Errorf("更新自定义模板失败: %w", err)
		}
	}

	limits := map[string]interface{}{}
	if patch.MaxTurns != nil {
		if *patch.MaxTurns < 1 || *patch.MaxTurns > 100 {
			return nil, fmt.Errorf("max_turns 必须在 1 到 100 之间: %d", *patch.MaxTurns)
		}
		limits["max_turns"] = *patch.MaxTurns
	}
	if patch.RateLimitRPM != nil {
		if *patch.RateLimitRPM < 1 || *patch.RateLimitRPM > 600 {
			return nil, fmt.Errorf("rate_limit_rpm 必须在 1 到 600 之间: %d", *patch.RateLimitRPM)
		}
		limits["rate_limit_rpm"] = *patch.RateLimitRPM
	}
	if len(limits) > 0 {
		if err := s.clientRepo.UpdateLimits(clientID, limits); err != nil {
			return nil, fmt.Errorf("更新会话额度失败: %w", err)
		}
	}

	return s.clientRepo.FindByID(clientID)
}
