package attendance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestImpactTotals(t *testing.T) {
	impact := Impact{
		Penalties: []Penalty{
			{Amount: decimal.NewFromInt(150), Reason: "late arrival"},
			{Amount: decimal.RequireFromString("49.50"), Reason: "late arrival"},
		},
		Permissions: []Permission{
			{Hours: decimal.NewFromInt(2)},
			{Hours: decimal.RequireFromString("1.5")},
		},
	}

	assert.True(t, impact.TotalPenalties().Equal(decimal.RequireFromString("199.50")))
	assert.True(t, impact.PermissionHours().Equal(decimal.RequireFromString("3.5")))
	assert.True(t, Impact{}.TotalPenalties().IsZero())
}
