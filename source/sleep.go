package source

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// SleepOptions describe a synthetic workload of sleep commands.
type SleepOptions struct {
	Count   int   `mapstructure:"count" yaml:"count"`
	TMin    int   `mapstructure:"tmin" yaml:"tmin"`
	TMax    int   `mapstructure:"tmax" yaml:"tmax"`
	Barrier int   `mapstructure:"barrier" yaml:"barrier"`
	Cores   int   `mapstructure:"cores" yaml:"cores"`
	Seed    int64 `mapstructure:"seed" yaml:"seed"`
}

// NewSleep builds Count commands "echo <i> ; sleep <t>" with t drawn from
// [TMin,TMax], and a barrier after every Barrier commands when positive.
func NewSleep(opts SleepOptions) (*Buffer, error) {
	if opts.Count < 1 {
		return nil, errors.Errorf("sleep source needs a positive count, got %d", opts.Count)
	}
	if opts.TMin < 0 || opts.TMax < opts.TMin {
		return nil, errors.Errorf("bad sleep range [%d,%d]", opts.TMin, opts.TMax)
	}
	if opts.Cores < 1 {
		opts.Cores = 1
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	var items []Item
	for i := 0; i < opts.Count; i++ {
		if opts.Barrier > 0 && i > 0 && i%opts.Barrier == 0 {
			items = append(items, Barrier())
		}
		t := opts.TMin + rng.Intn(opts.TMax-opts.TMin+1)
		items = append(items, Command(fmt.Sprintf("echo %d > /dev/null ; sleep %d", i, t), opts.Cores))
	}
	return NewList(items, 0)
}
