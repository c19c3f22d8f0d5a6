package database

import (
	"errors"
	"fmt"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/learnhub/core/internal/config"
)

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry 'tx-1' for key 'payments.transaction_id'"}
	assert.True(t, IsDuplicateKey(dup))
	assert.True(t, IsDuplicateKey(fmt.Errorf("create payment: %w", dup)))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))

	assert.False(t, IsDuplicateKey(&mysqlDriver.MySQLError{Number: 1054}))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
	assert.False(t, IsDuplicateKey(nil))
}

func TestResolveLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, resolveLogLevel(&config.AppConfig{Env: "development"}))
	assert.Equal(t, logger.Warn, resolveLogLevel(&config.AppConfig{Env: "production"}))
}
