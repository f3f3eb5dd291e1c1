package main

import (
	"fmt"
	"math/rand"
	"sort"
)

// baseline keeps every tag inside its warning band.
var baseline = map[string]float64{
	"TMP":      1.8,
	"DP":       0.6,
	"COND":     180,
	"TEMP":     24,
	"PH":       7.4,
	"FLOW":     95,
	"PRESSURE": 60,
}

type profile struct {
	name  string
	drift func(step, steps int, values map[string]float64)
}

var profiles = map[string]profile{
	"normal": {name: "normal", drift: func(int, int, map[string]float64) {}},
	"tmp-rise": {name: "tmp-rise", drift: func(step, steps int, values map[string]float64) {
		values["TMP"] = ramp(2.2, 2.9, step, steps)
	}},
	"cond-spike": {name: "cond-spike", drift: func(step, steps int, values map[string]float64) {
		if step >= steps/2 {
			values["COND"] = 465
		}
	}},
	"pump": {name: "pump", drift: func(step, steps int, values map[string]float64) {
		values["DP"] = ramp(0.9, 1.35, step, steps)
		values["FLOW"] = ramp(90, 70, step, steps)
	}},
	"overpressure": {name: "overpressure", drift: func(_, _ int, values map[string]float64) {
		values["PRESSURE"] = 104
	}},
}

func lookupProfile(name string) (profile, error) {
	p, ok := profiles[name]
	if !ok {
		names := make([]string, 0, len(profiles))
		for n := range profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return profile{}, fmt.Errorf("unknown profile %q (known: %v)", name, names)
	}
	return p, nil
}

// values returns the readings of one step. noise is a relative amplitude applied
// to tags the profile does not drive.
func (p profile) values(step, steps int, noise float64, rng *rand.Rand) map[string]float64 {
	out := make(map[string]float64, len(baseline))
	for tag, v := range baseline {
		if noise > 0 && rng != nil {
			v += v * noise * (rng.Float64()*2 - 1)
		}
		out[tag] = v
	}
	p.drift(step, steps, out)
	return out
}

func ramp(from, to float64, step, steps int) float64 {
	if steps <= 1 {
		return to
	}
	if step >= steps-1 {
		return to
	}
	return from + (to-from)*float64(step)/float64(steps-1)
}
