package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/huangang/gatehouse/backend/internal/models"
	"gorm.io/gorm"
)

type TwoFactorMode int

const (
	TwoFactorDisabled TwoFactorMode = 0
	TwoFactorOptional TwoFactorMode = 1 // per-user opt in
	TwoFactorRequired TwoFactorMode = 2
)

// LDAPSettings are the directory connection details kept in system_configs.
type LDAPSettings struct {
	Host          string
	Port          int
	BaseDN        string
	BindDN        string
	BindPassword  string
	UserFilter    string
	UseSSL        bool
	EmailAttr     string
	FirstNameAttr string
	LastNameAttr  string
}

// Settings is an immutable per-request view of system_configs.
type Settings struct {
	SiteName            string
	LoginCommonDisabled bool
	RemoteUserEnabled   bool
	RemoteUserLogoutURL string
	LDAPEnabled         bool
	LDAPPasswordSync    bool
	LDAP                LDAPSettings
	TwoFactor           TwoFactorMode
	LogRetentionDays    int
}

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(ctx context.Context, key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.WithContext(ctx).Where("config_key = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) Set(ctx context.Context, key, value string) error {
	db := s.db.WithContext(ctx)
	var cfg models.SystemConfig
	err := db.Where("config_key = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) List(ctx context.Context) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.WithContext(ctx).Order("config_key ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// Snapshot reads every setting in one query.
func (s *SystemConfigService) Snapshot(ctx context.Context) (Settings, error) {
	var rows []models.SystemConfig
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return Settings{}, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return settingsFromMap(values), nil
}

func settingsFromMap(values map[string]string) Settings {
	str := func(key, def string) string {
		if v, ok := values[key]; ok {
			return v
		}
		return def
	}
	num := func(key string, def int) int {
		n, err := strconv.Atoi(strings.TrimSpace(values[key]))
		if err != nil {
			return def
		}
		return n
	}

	mode := TwoFactorMode(num("two_factor_enabled", 0))
	if mode < TwoFactorDisabled || mode > TwoFactorRequired {
		mode = TwoFactorDisabled
	}

	return Settings{
		SiteName:            str("site_name", "Gatehouse"),
		LoginCommonDisabled: parseFlag(values["login_common_disabled"]),
		RemoteUserEnabled:   parseFlag(values["login_remote_user_enabled"]),
		RemoteUserLogoutURL: strings.TrimSpace(values["login_remote_user_custom_logout_url"]),
		LDAPEnabled:         parseFlag(values["ldap_enabled"]),
		LDAPPasswordSync:    parseFlag(values["ldap_pw_sync"]),
		LDAP: LDAPSettings{
			Host:          values["ldap_host"],
			Port:          num("ldap_port", 389),
			BaseDN:        values["ldap_base_dn"],
			BindDN:        values["ldap_bind_dn"],
			BindPassword:  values["ldap_bind_password"],
			UserFilter:    str("ldap_user_filter", "(uid=%s)"),
			UseSSL:        parseFlag(values["ldap_use_ssl"]),
			EmailAttr:     str("ldap_email_attr", "mail"),
			FirstNameAttr: str("ldap_fname_attr", "givenName"),
			LastNameAttr:  str("ldap_lname_attr", "sn"),
		},
		TwoFactor:        mode,
		LogRetentionDays: num("log_retention_days", 30),
	}
}

// parseFlag accepts both the "1"/"0" form written by the admin UI and "true"/"false".
func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
