package wpbot

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormArchive 用数据库保存完整的会话记录
type GormArchive struct {
	logger *zap.Logger
	db     *gorm.DB
}

// OpenSQLiteArchive 打开(或创建) sqlite 数据库并迁移表结构
func OpenSQLiteArchive(zlogger *zap.Logger, path string) (*GormArchive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewGormArchive(zlogger, db)
}

// NewGormArchive 使用已有的数据库连接
func NewGormArchive(zlogger *zap.Logger, db *gorm.DB) (*GormArchive, error) {
	if err := db.AutoMigrate(&historyRecord{}); err != nil {
		return nil, err
	}
	return &GormArchive{logger: zlogger.Named("Archive"), db: db}, nil
}

// LoadHistory 按时间顺序返回用户最近的 limit 条记录
func (a *GormArchive) LoadHistory(ctx context.Context, userID string, limit int) ([]Exchange, error) {
	records, err := gorm.G[historyRecord](a.db).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(ctx)
	if err != nil {
		return nil, err
	}

	slices.Reverse(records)
	histories := make([]Exchange, 0, len(records))
	for _, r := range records {
		histories = append(histories, r.toExchange())
	}
	return histories, nil
}

// AppendHistory 在一个事务里写入新记录
func (a *GormArchive) AppendHistory(ctx context.Context, userID string, records []Exchange) error {
	err := a.db.Transaction(func(tx *gorm.DB) error {
		for _, r := range records {
			err := gorm.G[historyRecord](tx).Create(ctx, &historyRecord{
				UserID: userID,
				Role:   string(r.Role),
				Text:   r.Text,
				SentAt: r.Timestamp,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Debug("写入会话记录", zap.String("UserID", userID), zap.Int("Messages", len(records)))
	return nil
}

// ClearHistory 删除用户的全部记录
func (a *GormArchive) ClearHistory(ctx context.Context, userID string) error {
	_, err := gorm.G[historyRecord](a.db).Where("user_id = ?", userID).Delete(ctx)
	return err
}

// CountHistory 返回用户的记录数量
func (a *GormArchive) CountHistory(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&historyRecord{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
