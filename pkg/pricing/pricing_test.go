package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
)

func TestPriceTwelveWeeks(t *testing.T) {
	quote, err := Price(money.NGNNaira(100_000), 12)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), quote.InterestRateBP)
	assert.Equal(t, money.NGNNaira(120_000), quote.TotalRepayable)
	assert.Equal(t, money.NGNNaira(10_000), quote.WeeklyPayment)
}

func TestPriceSixWeeks(t *testing.T) {
	quote, err := Price(money.NGNNaira(60_000), 6)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), quote.InterestRateBP)
	assert.Equal(t, money.NGNNaira(66_000), quote.TotalRepayable)
	assert.Equal(t, money.NGNNaira(11_000), quote.WeeklyPayment)
}

func TestPriceWeeklyPaymentRoundsDown(t *testing.T) {
	// 100,001 naira at 12 weeks: total 120,001.20 naira; per week floors.
	quote, err := Price(money.NGNKobo(10_000_100), 12)
	require.NoError(t, err)

	total := quote.TotalRepayable
	weekly := quote.WeeklyPayment
	assert.Equal(t, total.Amount/12, weekly.Amount)
	// 12 weekly payments never exceed the total.
	assert.True(t, weekly.Amount*12 <= total.Amount)
	assert.True(t, total.Amount-weekly.Amount*12 < 12)
}

func TestPriceRejectsBadInput(t *testing.T) {
	_, err := Price(money.NGNNaira(100_000), 8)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = Price(money.Zero(money.NGN), 6)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = Price(money.NGNKobo(-100), 12)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestUpfrontCostSME(t *testing.T) {
	product, err := Product(models.CategorySME)
	require.NoError(t, err)

	cost, err := UpfrontCost(money.NGNNaira(500_000), product)
	require.NoError(t, err)

	assert.Equal(t, money.NGNNaira(50_000), cost.Deposit)
	assert.Equal(t, money.NGNNaira(7_500), cost.Insurance)
	assert.Equal(t, money.NGNNaira(3_500), cost.ServiceCharge)
	assert.Equal(t, money.NGNNaira(61_000), cost.Total)
}

func TestUpfrontCostInsuranceRates(t *testing.T) {
	cases := []struct {
		category  models.ProductCategory
		principal money.Money
		insurance money.Money
	}{
		{models.CategorySME, money.NGNNaira(100_000), money.NGNNaira(1_500)},
		{models.CategoryBusiness, money.NGNNaira(2_000_000), money.NGNNaira(40_000)},
		{models.CategoryJumbo, money.NGNNaira(10_000_000), money.NGNNaira(250_000)},
	}
	for _, tc := range cases {
		product, err := Product(tc.category)
		require.NoError(t, err)

		cost, err := UpfrontCost(tc.principal, product)
		require.NoError(t, err, "category %s", tc.category)
		assert.Equal(t, tc.insurance, cost.Insurance, "category %s", tc.category)
	}
}

func TestUpfrontCostRange(t *testing.T) {
	product, err := Product(models.CategorySME)
	require.NoError(t, err)

	_, err = UpfrontCost(money.NGNNaira(49_999), product)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = UpfrontCost(money.NGNNaira(1_000_001), product)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	// Boundaries are inclusive.
	_, err = UpfrontCost(money.NGNNaira(50_000), product)
	assert.NoError(t, err)
	_, err = UpfrontCost(money.NGNNaira(1_000_000), product)
	assert.NoError(t, err)
}

func TestProductUnknownCategory(t *testing.T) {
	_, err := Product("payday")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
