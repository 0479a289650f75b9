package model

import "fmt"

// Cents is a fixed-point money amount. All claim and inventory cost
// arithmetic stays in integer cents to avoid rounding drift.
type Cents int64

func (c Cents) String() string {
	sign := ""
	v := c
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Add returns c + other.
func (c Cents) Add(other Cents) Cents { return c + other }
