package services

import (
	"errors"
	"strconv"
	"strings"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetInt returns a positive integer setting, or defaultValue when the row is
// missing, malformed or not positive.
func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(strings.TrimSpace(s.GetWithDefault(key, "")))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *SystemConfigService) List() ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

type UpdateSystemConfigRequest struct {
	Values map[string]string `json:"values" binding:"required"`
}

// Update writes known settings only. Values are validated against the
// declared type of the seeded row; an empty int clears the override.
func (s *SystemConfigService) Update(req *UpdateSystemConfigRequest) ([]models.SystemConfig, error) {
	for key, value := range req.Values {
		var cfg models.SystemConfig
		if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, response.NewBadRequest("unknown setting: " + key)
			}
			return nil, err
		}
		switch cfg.Type {
		case "int":
			if strings.TrimSpace(value) == "" {
				continue
			}
			if n, err := strconv.Atoi(value); err != nil || n < 0 {
				return nil, response.NewBadRequest(key + " must be a non-negative integer")
			}
		case "bool":
			if _, err := strconv.ParseBool(value); err != nil {
				return nil, response.NewBadRequest(key + " must be true or false")
			}
		}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range req.Values {
			if err := tx.Model(&models.SystemConfig{}).
				Where(&models.SystemConfig{Key: key}).
				Update("value", value).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.List()
}
