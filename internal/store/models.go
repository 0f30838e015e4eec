package store

import "time"

// Wallet is an authenticated wallet owner, keyed by the SIWE address.
type Wallet struct {
	ID        uint      `gorm:"primaryKey"`
	Address   string    `gorm:"size:66;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Admin is the operations login for the service dashboard.
type Admin struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"size:64;uniqueIndex"`
	PasswordHash []byte
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

const (
	OpKindTransfer = "transfer"
	OpKindDeposit  = "deposit"

	OpStatusSubmitted = "submitted"
	OpStatusIncluded  = "included"
	OpStatusFailed    = "failed"
)

// Operation is the history row for one submitted user operation.
type Operation struct {
	ID         uint   `gorm:"primaryKey"`
	TraceID    string `gorm:"size:36;uniqueIndex"`
	Kind       string `gorm:"size:16;not null"`
	TokenID    string `gorm:"size:16;not null"`
	Sender     string `gorm:"size:66;index"`
	Recipient  string `gorm:"size:66"`
	Amount     string `gorm:"size:80"`
	Fee        string `gorm:"size:80"`
	UserOpHash string `gorm:"size:66;uniqueIndex"`
	TxHash     string `gorm:"size:66"`
	Status     string `gorm:"size:16;index"`
	Reason     string `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// DepositLink records a claim link this service produced. The password
// only travels inside the link itself; it is never stored separately.
type DepositLink struct {
	ID           uint   `gorm:"primaryKey"`
	OperationID  uint   `gorm:"index"`
	TokenID      string `gorm:"size:16;not null"`
	DepositIndex int64  `gorm:"uniqueIndex"`
	Link         string `gorm:"size:512"`
	Claimed      bool
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}
