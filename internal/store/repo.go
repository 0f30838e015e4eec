package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("store: not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *DB) *Repository { return &Repository{db: db.DB} }

func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func (r *Repository) EnsureWallet(ctx context.Context, address string) (*Wallet, error) {
	addr := NormalizeAddress(address)
	var w Wallet
	err := r.db.WithContext(ctx).Where("address = ?", addr).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	w = Wallet{Address: addr}
	if err := r.db.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).Where("address = ?", NormalizeAddress(address)).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetAdminByUsername(ctx context.Context, username string) (*Admin, error) {
	var a Admin
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) CreateOperation(ctx context.Context, op *Operation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

func (r *Repository) UpdateOperationStatus(ctx context.Context, userOpHash, status, txHash, reason string) error {
	updates := map[string]any{"status": status}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	if reason != "" {
		updates["reason"] = reason
	}
	res := r.db.WithContext(ctx).Model(&Operation{}).Where("user_op_hash = ?", userOpHash).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetOperationByHash(ctx context.Context, userOpHash string) (*Operation, error) {
	var op Operation
	err := r.db.WithContext(ctx).Where("user_op_hash = ?", userOpHash).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

func (r *Repository) ListOperations(ctx context.Context, sender string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Operation
	query := r.db.WithContext(ctx).Order("id desc").Limit(limit)
	if sender != "" {
		query = query.Where("sender = ?", NormalizeAddress(sender))
	}
	err := query.Find(&out).Error
	return out, err
}

func (r *Repository) CreateDepositLink(ctx context.Context, link *DepositLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *Repository) MarkDepositClaimed(ctx context.Context, depositIndex int64) error {
	res := r.db.WithContext(ctx).Model(&DepositLink{}).
		Where("deposit_index = ?", depositIndex).
		Update("claimed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
