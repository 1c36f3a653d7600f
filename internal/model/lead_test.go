package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory_Valid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("").Valid())
	assert.False(t, Category("Lost Lead").Valid())
}

func TestLead_SubStatusValue(t *testing.T) {
	var l Lead
	assert.Equal(t, "", l.SubStatusValue())

	sub := "Call Back"
	l.SubStatus = &sub
	assert.Equal(t, "Call Back", l.SubStatusValue())
}

func TestLead_Income(t *testing.T) {
	var l Lead
	assert.Zero(t, l.Income())

	income := 25000.0
	l.TotalIncome = &income
	assert.InDelta(t, 25000, l.Income(), 0.001)
}
