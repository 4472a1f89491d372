// Package pricing computes loan terms and upfront obligations. Everything
// here is a pure function over money values so the rules can be tested
// exhaustively.
package pricing

import (
	"errors"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
)

var (
	ErrInvalidPeriod     = errors.New("pricing: loan period must be 6 or 12 weeks")
	ErrAmountOutOfRange  = errors.New("pricing: principal outside product range")
	ErrUnknownCategory   = errors.New("pricing: unknown product category")
	ErrNonPositiveAmount = errors.New("pricing: principal must be positive")
)

// Interest rates by period, in basis points of principal.
const (
	rateSixWeeksBP    = 1000 // 10%
	rateTwelveWeeksBP = 2000 // 20%
)

// ServiceCharge is the flat fee collected with every upfront payment.
var ServiceCharge = money.NGNNaira(3_500)

// Quote is the priced terms of a loan.
type Quote struct {
	InterestRateBP int64
	TotalRepayable money.Money
	WeeklyPayment  money.Money
}

// Price returns the terms for a principal over the given period.
// 6 weeks carries 10% flat interest, 12 weeks carries 20%; no other period
// is offered. The weekly payment rounds down, so the final installment may
// be up to periodWeeks-1 kobo larger.
func Price(principal money.Money, periodWeeks int) (Quote, error) {
	if !principal.IsPositive() {
		return Quote{}, ErrNonPositiveAmount
	}

	var rateBP int64
	switch periodWeeks {
	case 6:
		rateBP = rateSixWeeksBP
	case 12:
		rateBP = rateTwelveWeeksBP
	default:
		return Quote{}, ErrInvalidPeriod
	}

	total := principal.Add(principal.MulBasisPoints(rateBP))
	return Quote{
		InterestRateBP: rateBP,
		TotalRepayable: total,
		WeeklyPayment:  total.DivFloor(int64(periodWeeks)),
	}, nil
}

// UpfrontCost computes the obligations due before approval: a refundable
// deposit of 10% of principal, the product's insurance premium, and the flat
// service charge. Fractional kobo rounds down.
func UpfrontCost(principal money.Money, product models.LoanProduct) (models.UpfrontCost, error) {
	if !principal.IsPositive() {
		return models.UpfrontCost{}, ErrNonPositiveAmount
	}
	if principal.LessThan(product.MinAmount) || product.MaxAmount.LessThan(principal) {
		return models.UpfrontCost{}, ErrAmountOutOfRange
	}

	deposit := principal.MulBasisPoints(1000)
	insurance := principal.MulBasisPoints(product.InsuranceRateBP)
	total := deposit.Add(insurance).Add(ServiceCharge)

	return models.UpfrontCost{
		Deposit:       deposit,
		Insurance:     insurance,
		ServiceCharge: ServiceCharge,
		Total:         total,
	}, nil
}

// Product looks up the catalog entry for a category.
func Product(category models.ProductCategory) (models.LoanProduct, error) {
	p, ok := models.Products[category]
	if !ok {
		return models.LoanProduct{}, ErrUnknownCategory
	}
	return p, nil
}
