// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tc

import (
	"strconv"
	"time"
)

// Bounds for the netem queue limit, in packets. Below MinNetemLimit rate
// limiting drops too eagerly; MaxNetemLimit is the netem default.
const (
	MinNetemLimit = 10
	MaxNetemLimit = 1000
)

var rateUnitBits = map[string]float64{
	"bit":  1,
	"kbit": 1 << 10,
	"mbit": 1 << 20,
	"gbit": 1 << 30,
	"tbit": 1 << 40,
	"bps":  8,
	"kbps": 8 << 10,
	"mbps": 8 << 20,
	"gbps": 8 << 30,
	"tbps": 8 << 40,
}

// NetemLimit sizes the netem queue from the bandwidth-delay product.
//
// The delay is floored at 1ms. The product in bits is divided by 1000
// (roughly a 10kbit packet, scaled up tenfold to avoid premature drops) and
// clamped to [MinNetemLimit, MaxNetemLimit]. An empty or unparsable delay
// counts as the floor; an unparsable rate returns MaxNetemLimit.
func NetemLimit(rate, delay string) uint64 {
	m := rateValue.FindStringSubmatch(rate)
	if m == nil {
		return MaxNetemLimit
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return MaxNetemLimit
	}
	bitsPerSec := n * rateUnitBits[m[3]]

	d, _ := time.ParseDuration(delay)
	if d < time.Millisecond {
		d = time.Millisecond
	}

	bdp := bitsPerSec * d.Seconds()
	limit := uint64(bdp / 1e3)
	if limit < MinNetemLimit {
		return MinNetemLimit
	}
	if limit > MaxNetemLimit {
		return MaxNetemLimit
	}
	return limit
}
