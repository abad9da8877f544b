package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestroy_SupplyBelowBalance(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	f := NewFungible("WETH", common.HexToAddress("0x000000000000000000000000000000000000e7e1"))
	require.NoError(t, f.Credit(holder, uint256.NewInt(10)))

	f.totalSupply = uint256.NewInt(5)

	err := f.Destroy(holder, uint256.NewInt(10))
	assert.ErrorIs(t, err, ErrSupplyUnderflow)
	assert.Equal(t, uint64(10), f.BalanceOf(holder).Uint64())
	require.NotNil(t, f.TotalSupply())
	assert.Equal(t, uint64(5), f.TotalSupply().Uint64())
}
