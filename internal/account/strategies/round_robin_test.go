package strategies

import (
	"testing"

	"github.com/relaygw/cloudcode-gateway/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccounts(emails ...string) []*redis.Account {
	accounts := make([]*redis.Account, 0, len(emails))
	for _, email := range emails {
		accounts = append(accounts, &redis.Account{Email: email, Enabled: true})
	}
	return accounts
}

func TestRoundRobinStrategySelectAccountRotates(t *testing.T) {
	strategy := NewRoundRobinStrategy(&Config{})
	accounts := testAccounts("a@example.com", "b@example.com", "c@example.com")

	result1 := strategy.SelectAccount(nil, accounts, "", SelectOptions{})
	require.NotNil(t, result1.Account)

	result2 := strategy.SelectAccount(nil, accounts, "", SelectOptions{})
	require.NotNil(t, result2.Account)

	assert.NotEqual(t, result1.Account.Email, result2.Account.Email)
}

func TestRoundRobinStrategySkipsDisabledAccounts(t *testing.T) {
	strategy := NewRoundRobinStrategy(&Config{})
	accounts := testAccounts("a@example.com", "b@example.com")
	accounts[1].Enabled = false

	for i := 0; i < 4; i++ {
		result := strategy.SelectAccount(nil, accounts, "", SelectOptions{})
		require.NotNil(t, result.Account)
		assert.Equal(t, "a@example.com", result.Account.Email)
	}
}

func TestRoundRobinStrategyNoAccountsReturnsNil(t *testing.T) {
	strategy := NewRoundRobinStrategy(&Config{})
	result := strategy.SelectAccount(nil, nil, "", SelectOptions{})
	assert.Nil(t, result.Account)
}

func TestRoundRobinStrategyAllAccountsInvalidReturnsNil(t *testing.T) {
	strategy := NewRoundRobinStrategy(&Config{})
	accounts := testAccounts("a@example.com")
	accounts[0].IsInvalid = true

	result := strategy.SelectAccount(nil, accounts, "", SelectOptions{})
	assert.Nil(t, result.Account)
}

func TestRoundRobinStrategyResetCursor(t *testing.T) {
	strategy := NewRoundRobinStrategy(&Config{})
	accounts := testAccounts("a@example.com", "b@example.com")

	strategy.SelectAccount(nil, accounts, "", SelectOptions{})
	strategy.ResetCursor()
	assert.Equal(t, 0, strategy.cursor)
}

func TestRoundRobinStrategyOnSaveCallback(t *testing.T) {
	strategy := NewRoundRobinStrategy(&Config{})
	accounts := testAccounts("a@example.com")

	called := false
	strategy.SelectAccount(nil, accounts, "", SelectOptions{OnSave: func() { called = true }})
	assert.True(t, called)
}
