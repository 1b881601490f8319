// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"tutoria-go/internal/model"

	"gorm.io/gorm"
)

// TutorRepository 接口定义了导师记录的持久化操作。
type TutorRepository interface {
	FindByUserID(userID uint) ([]model.Tutor, error)
	FindByID(id string) (*model.Tutor, error)
	Create(tutor *model.Tutor) error
	Update(tutor *model.Tutor) error
	Delete(id string, userID uint) error
	MinPosition(userID uint) (int, error)
}

// tutorRepository 是 TutorRepository 接口的 GORM 实现。
type tutorRepository struct {
	db *gorm.DB
}

// NewTutorRepository 创建一个新的 TutorRepository 实例。
func NewTutorRepository(db *gorm.DB) TutorRepository {
	return &tutorRepository{db: db}
}

// FindByUserID 返回某用户的全部导师，按列表位置升序排列。
func (r *tutorRepository) FindByUserID(userID uint) ([]model.Tutor, error) {
	var tutors []model.Tutor
	err := r.db.Where("user_id = ?", userID).Order("position asc").Find(&tutors).Error
	return tutors, err
}

// FindByID 根据 ID 查找一个导师。
func (r *tutorRepository) FindByID(id string) (*model.Tutor, error) {
	var tutor model.Tutor
	err := r.db.Where("id = ?", id).First(&tutor).Error
	if err != nil {
		return nil, err
	}
	return &tutor, nil
}

// Create 在数据库中创建一个新的导师记录。
func (r *tutorRepository) Create(tutor *model.Tutor) error {
	return r.db.Create(tutor).Error
}

// Update 整行覆盖一个已存在的导师记录。
func (r *tutorRepository) Update(tutor *model.Tutor) error {
	return r.db.Save(tutor).Error
}

// Delete 删除某用户的一个导师记录。
func (r *tutorRepository) Delete(id string, userID uint) error {
	return r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Tutor{}).Error
}

// MinPosition 返回某用户导师的最小位置值；没有记录时返回 0。
// 新建和导入的导师取最小值减一，从而排在列表最前。
func (r *tutorRepository) MinPosition(userID uint) (int, error) {
	var min *int
	err := r.db.Model(&model.Tutor{}).Where("user_id = ?", userID).
		Select("MIN(position)").Scan(&min).Error
	if err != nil {
		return 0, err
	}
	if min == nil {
		return 0, nil
	}
	return *min, nil
}
